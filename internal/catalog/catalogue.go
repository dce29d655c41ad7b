package catalog

// Catalogue is an ordered collection of items. Item identity is the *Item
// handle: two distinct items may share a title, artist or even an id, and
// Remove only ever drops the exact handle it is given.
//
// Catalogue does no locking of its own; Service serialises access to it.
type Catalogue struct {
	items []*Item
}

func NewCatalogue(items ...*Item) *Catalogue {
	c := &Catalogue{}
	c.Add(items...)
	return c
}

// Add appends one item or a batch, preserving order.
func (c *Catalogue) Add(items ...*Item) {
	c.items = append(c.items, items...)
}

// Remove drops the first occurrence of item. Removing an item that is not
// in the catalogue is a no-op.
func (c *Catalogue) Remove(item *Item) {
	for i, candidate := range c.items {
		if candidate == item {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return
		}
	}
}

// List returns the items in catalogue order. The slice is a copy; the
// items are shared.
func (c *Catalogue) List() []*Item {
	out := make([]*Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalogue) Len() int {
	return len(c.items)
}

// FindByTitle returns every item whose title matches exactly.
func (c *Catalogue) FindByTitle(title string) []*Item {
	return c.filter(func(i *Item) bool { return i.Title == title })
}

// FindByArtist returns every item whose artist matches exactly.
func (c *Catalogue) FindByArtist(artist string) []*Item {
	return c.filter(func(i *Item) bool { return i.Artist == artist })
}

// FindByID returns the first item carrying id.
func (c *Catalogue) FindByID(id int64) (*Item, bool) {
	for _, item := range c.items {
		if item.ID == id {
			return item, true
		}
	}
	return nil, false
}

func (c *Catalogue) filter(match func(*Item) bool) []*Item {
	out := []*Item{}
	for _, item := range c.items {
		if match(item) {
			out = append(out, item)
		}
	}
	return out
}
