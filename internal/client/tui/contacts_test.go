package tui

import (
	"testing"

	"chatview/internal/client/models"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedContacts(t *testing.T) ContactsView {
	t.Helper()
	c := NewContactsView()
	c.SetSize(30, 20)
	c.Focus()
	c, _ = c.Update(models.ContactsLoaded{Contacts: []models.User{alice, bob}})
	return c
}

func TestContacts_EnterSelectsPartner(t *testing.T) {
	c := loadedContacts(t)

	c, _ = c.Update(tea.KeyMsg{Type: tea.KeyDown})
	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)

	msg, ok := cmd().(models.PartnerSelected)
	require.True(t, ok)
	assert.Equal(t, bob, msg.Partner)
}

func TestContacts_IgnoresKeysWhenBlurred(t *testing.T) {
	c := loadedContacts(t)
	c.Blur()

	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestContacts_MarksActivePartner(t *testing.T) {
	c := loadedContacts(t)
	c.SetActive("alice")

	assert.Contains(t, c.View(), "● Alice")
	assert.NotContains(t, c.View(), "● Bob")
}
