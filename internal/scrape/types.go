package scrape

// Item is one unit of input work, an opaque field mapping supplied by the
// caller. The field named by the Behavior's TrackingKey must be present and
// hold the navigation target. Items are never mutated after batching.
type Item map[string]string

// Field returns the named field, or "" when absent.
func (i Item) Field(name string) string {
	return i[name]
}

// Clone returns an independent copy of the item.
func (i Item) Clone() Item {
	cp := make(Item, len(i))
	for k, v := range i {
		cp[k] = v
	}
	return cp
}

// Result is one output row produced for an item. The field named by the
// Behavior's ResumeKeyField carries the row's durable identity.
type Result map[string]string

// Batch is a contiguous slice of the filtered item list owned by exactly one
// worker. Batches are never re-split or merged after assignment.
type Batch []Item
