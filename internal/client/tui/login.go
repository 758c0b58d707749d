// internal/client/tui/login.go
package tui

import (
	"errors"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errMissingCredentials = errors.New("username and password are required")

// LoginSubmitMsg carries the credentials entered in the login form.
type LoginSubmitMsg struct {
	Username string
	Password string
}

type LoginModel struct {
	username   textinput.Model
	password   textinput.Model
	focusIndex int
	pending    bool
	err        error
	width      int
	height     int
}

func NewLoginModel() LoginModel {
	username := textinput.New()
	username.Placeholder = "Username"
	username.Focus()

	password := textinput.New()
	password.Placeholder = "Password"
	password.EchoMode = textinput.EchoPassword

	return LoginModel{
		username: username,
		password: password,
	}
}

func (m LoginModel) Init() tea.Cmd {
	return textinput.Blink
}

// SetError shows a failed login and re-enables the form.
func (m *LoginModel) SetError(err error) {
	m.err = err
	m.pending = false
}

func (m LoginModel) Update(msg tea.Msg) (LoginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "shift+tab", "up", "down":
			// two fields, so both directions toggle
			m.focusIndex = 1 - m.focusIndex
			if m.focusIndex == 0 {
				m.username.Focus()
				m.password.Blur()
			} else {
				m.username.Blur()
				m.password.Focus()
			}
			return m, nil

		case "enter":
			if m.pending {
				return m, nil
			}
			username, password := m.username.Value(), m.password.Value()
			if username == "" || password == "" {
				m.err = errMissingCredentials
				return m, nil
			}
			m.err = nil
			m.pending = true
			return m, func() tea.Msg {
				return LoginSubmitMsg{Username: username, Password: password}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.username, cmd = m.username.Update(msg)
	cmds = append(cmds, cmd)
	m.password, cmd = m.password.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m LoginModel) View() string {
	var content string

	content += titleStyle.Render("Chat Login")
	content += "\n\n"

	content += "Username:\n"
	content += m.username.View()
	content += "\n\nPassword:\n"
	content += m.password.View()
	content += "\n\n"

	if m.pending {
		content += subtleStyle.Render("Signing in...")
	} else {
		content += subtleStyle.Render("Tab to switch fields • Enter to submit")
	}

	if m.err != nil {
		content += "\n" + errorStyle.Render(m.err.Error())
	}

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		loginStyle.Render(content),
	)
}
