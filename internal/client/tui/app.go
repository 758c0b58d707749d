// internal/client/tui/app.go
package tui

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"chatview/internal/client/models"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

const (
	connectTimeout  = 10 * time.Second
	contactsTimeout = 10 * time.Second
	maxSidebarWidth = 28
)

// SessionStore is the chat store as seen by the app shell.
type SessionStore interface {
	MessageStore
	Contacts(ctx context.Context) ([]models.User, error)
	SelectPartner(partner models.User)
	Close()
}

// Session is an authenticated connection to one backend.
type Session struct {
	User  models.User
	Store SessionStore
	// Close releases the backend connection. May be nil.
	Close func() error
}

// ConnectFunc authenticates against the configured backend.
type ConnectFunc func(ctx context.Context, username, password string) (*Session, error)

type focusArea int

const (
	focusContacts focusArea = iota
	focusConversation
)

type loginResultMsg struct {
	session *Session
	err     error
}

type contactsFailedMsg struct {
	err error
}

// App is the root model: login form, then contacts sidebar plus the
// conversation view.
type App struct {
	connect ConnectFunc
	logger  *slog.Logger

	login        LoginModel
	session      *Session
	contacts     ContactsView
	conversation ConversationModel
	focus        focusArea

	width  int
	height int
}

func NewApp(connect ConnectFunc, logger *slog.Logger) App {
	if logger == nil {
		logger = slog.Default()
	}

	width, height, err := term.GetSize(os.Stdout.Fd())
	if err != nil {
		width = 80
		height = 24
	}

	return App{
		connect:  connect,
		logger:   logger,
		login:    NewLoginModel(),
		contacts: NewContactsView(),
		width:    width,
		height:   height,
	}
}

func (m App) Init() tea.Cmd {
	return m.login.Init()
}

func (m App) loggedIn() bool {
	return m.session != nil
}

func (m App) sidebarWidth() int {
	return min(maxSidebarWidth, m.width/3)
}

func (m *App) layout() {
	m.login.width = m.width
	m.login.height = m.height
	if !m.loggedIn() {
		return
	}
	sw := m.sidebarWidth()
	// one column goes to the sidebar border
	m.contacts.SetSize(max(0, sw-1), m.height)
	m.conversation.SetOrigin(sw, 0)
	m.conversation.SetSize(max(0, m.width-sw), m.height)
	m.conversation.SetScreen(m.width, m.height)
}

func (m *App) setFocus(f focusArea) {
	m.focus = f
	if f == focusContacts {
		m.contacts.Focus()
		m.conversation.Blur()
	} else {
		m.contacts.Blur()
		m.conversation.Focus()
	}
}

func (m App) doConnect(username, password string) tea.Cmd {
	connect := m.connect
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		session, err := connect(ctx, username, password)
		return loginResultMsg{session: session, err: err}
	}
}

func loadContacts(store SessionStore) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), contactsTimeout)
		defer cancel()
		contacts, err := store.Contacts(ctx)
		if err != nil {
			return contactsFailedMsg{err: err}
		}
		return models.ContactsLoaded{Contacts: contacts}
	}
}

func (m *App) shutdown() {
	if m.session == nil {
		return
	}
	m.conversation.Close()
	m.session.Store.Close()
	if m.session.Close != nil {
		if err := m.session.Close(); err != nil {
			m.logger.Warn("error closing session", "error", err)
		}
	}
	m.session = nil
}

func (m App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case LoginSubmitMsg:
		m.logger.Info("connecting", "username", msg.Username)
		return m, m.doConnect(msg.Username, msg.Password)

	case loginResultMsg:
		if msg.err != nil {
			m.logger.Error("login failed", "error", msg.err)
			m.login.SetError(msg.err)
			return m, nil
		}
		m.session = msg.session
		m.logger.Info("logged in", "user_id", msg.session.User.ID)
		m.conversation = NewConversationModel(msg.session.Store, msg.session.User, m.logger)
		m.layout()
		m.setFocus(focusContacts)
		return m, tea.Batch(m.conversation.Init(), loadContacts(msg.session.Store))

	case contactsFailedMsg:
		m.logger.Error("error loading contacts", "error", msg.err)
		m.contacts.SetError(msg.err)
		return m, nil

	case models.ContactsLoaded:
		var cmd tea.Cmd
		m.contacts, cmd = m.contacts.Update(msg)
		return m, cmd

	case models.PartnerSelected:
		if !m.loggedIn() {
			return m, nil
		}
		m.session.Store.SelectPartner(msg.Partner)
		m.contacts.SetActive(msg.Partner.ID)
		m.setFocus(focusConversation)
		var cmd tea.Cmd
		m.conversation, cmd = m.conversation.Update(msg)
		return m, cmd

	case models.ErrorMsg:
		m.logger.Error("backend error", "error", msg.Error)
		m.contacts.SetError(errors.New(msg.Error))
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.shutdown()
			return m, tea.Quit
		}
		if !m.loggedIn() {
			var cmd tea.Cmd
			m.login, cmd = m.login.Update(msg)
			return m, cmd
		}
		if m.conversation.OverlayActive() {
			var cmd tea.Cmd
			m.conversation, cmd = m.conversation.Update(msg)
			return m, cmd
		}
		if msg.String() == "tab" && !m.contacts.Filtering() {
			if m.focus == focusContacts {
				m.setFocus(focusConversation)
			} else {
				m.setFocus(focusContacts)
			}
			return m, nil
		}

		var cmd tea.Cmd
		if m.focus == focusContacts {
			m.contacts, cmd = m.contacts.Update(msg)
		} else {
			m.conversation, cmd = m.conversation.Update(msg)
		}
		return m, cmd

	case tea.MouseMsg:
		if !m.loggedIn() {
			return m, nil
		}
		if !m.conversation.OverlayActive() && msg.X < m.sidebarWidth() {
			return m, nil
		}
		var cmd tea.Cmd
		m.conversation, cmd = m.conversation.Update(msg)
		return m, cmd

	case spinner.TickMsg, StoreChangedMsg, historyDoneMsg, sentMsg, previewLoadedMsg:
		if !m.loggedIn() {
			return m, nil
		}
		var cmd tea.Cmd
		m.conversation, cmd = m.conversation.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	if m.loggedIn() {
		m.conversation, cmd = m.conversation.Update(msg)
	} else {
		m.login, cmd = m.login.Update(msg)
	}
	return m, cmd
}

func (m App) View() string {
	if !m.loggedIn() {
		return m.login.View()
	}
	if m.conversation.OverlayActive() {
		return m.conversation.OverlayView()
	}

	sw := m.sidebarWidth()
	sidebar := sidebarStyle.
		Width(max(0, sw-1)).
		Height(m.height).
		Render(m.contacts.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, m.conversation.View())
}
