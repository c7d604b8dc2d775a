package caselist

import "sort"

// ToggleSelect flips the selection of a row on the displayed page and
// reports whether it is now selected.
func (c *Controller) ToggleSelect(id int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.onPageLocked(id); !ok {
		return false, notOnPage(id)
	}
	if _, ok := c.selected[id]; ok {
		delete(c.selected, id)
		return false, nil
	}
	c.selected[id] = struct{}{}
	return true, nil
}

// SelectAllOnPage replaces the selection with exactly the displayed page's
// rows. Selections are never carried across pages.
func (c *Controller) SelectAllOnPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = make(map[int64]struct{}, len(c.items))
	for _, it := range c.items {
		c.selected[it.ID] = struct{}{}
	}
	return len(c.selected)
}

// ClearSelection empties the selection.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[int64]struct{})
}

// Selected returns the selected IDs in ascending order.
func (c *Controller) Selected() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked()
}

func (c *Controller) selectedLocked() []int64 {
	ids := make([]int64, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
