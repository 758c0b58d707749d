// internal/client/tui/contacts.go
package tui

import (
	"chatview/internal/client/models"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type contactItem struct {
	user   models.User
	active bool
}

func (i contactItem) Title() string {
	if i.active {
		return "● " + i.user.DisplayName()
	}
	return "  " + i.user.DisplayName()
}

func (i contactItem) Description() string {
	return "  " + truncate(i.user.Avatar(), 24)
}

func (i contactItem) FilterValue() string {
	return i.user.Username
}

// ContactsView is the sidebar listing conversation partners.
type ContactsView struct {
	list     list.Model
	contacts []models.User
	activeID string
	err      error
	focused  bool
}

func NewContactsView() ContactsView {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Contacts"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.Styles.Title = titleStyle
	l.KeyMap.NextPage = key.NewBinding(key.WithKeys("pgdown"))
	l.KeyMap.PrevPage = key.NewBinding(key.WithKeys("pgup"))

	return ContactsView{list: l}
}

func (c *ContactsView) SetSize(width, height int) {
	c.list.SetSize(width, height)
}

func (c *ContactsView) Focus() { c.focused = true }
func (c *ContactsView) Blur()  { c.focused = false }

func (c ContactsView) Focused() bool {
	return c.focused
}

// Filtering reports whether the list is capturing keys for its filter.
func (c ContactsView) Filtering() bool {
	return c.list.FilterState() == list.Filtering
}

func (c ContactsView) Contacts() []models.User {
	return c.contacts
}

func (c *ContactsView) SetError(err error) {
	c.err = err
}

// SetActive marks the partner whose conversation is open.
func (c *ContactsView) SetActive(id string) {
	c.activeID = id
	c.updateItems()
}

func (c *ContactsView) updateItems() {
	items := make([]list.Item, 0, len(c.contacts))
	for _, u := range c.contacts {
		items = append(items, contactItem{user: u, active: u.ID == c.activeID})
	}
	c.list.SetItems(items)
}

func (c ContactsView) Update(msg tea.Msg) (ContactsView, tea.Cmd) {
	switch msg := msg.(type) {
	case models.ContactsLoaded:
		c.contacts = msg.Contacts
		c.err = nil
		c.updateItems()
		return c, nil

	case tea.KeyMsg:
		if !c.focused {
			return c, nil
		}
		if msg.String() == "enter" && !c.Filtering() {
			item, ok := c.list.SelectedItem().(contactItem)
			if !ok {
				return c, nil
			}
			partner := item.user
			return c, func() tea.Msg {
				return models.PartnerSelected{Partner: partner}
			}
		}
	}

	var cmd tea.Cmd
	c.list, cmd = c.list.Update(msg)
	return c, cmd
}

func (c ContactsView) View() string {
	view := c.list.View()
	if c.err != nil {
		view += "\n" + errorStyle.Render(truncate(c.err.Error(), max(10, c.list.Width())))
	}
	return view
}
