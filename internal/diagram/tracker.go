package diagram

// Tracker reports blocks as they complete in a growing text. Feed it every
// snapshot of one stream; a new stream needs a new Tracker.
type Tracker struct {
	seen int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe returns the blocks of text completed since the previous call.
// text must extend the previously observed text.
func (t *Tracker) Observe(text string) []Block {
	blocks := Extract(text)
	if len(blocks) <= t.seen {
		return nil
	}
	fresh := blocks[t.seen:]
	t.seen = len(blocks)
	return fresh
}

// Seen is the number of blocks reported so far.
func (t *Tracker) Seen() int {
	return t.seen
}
