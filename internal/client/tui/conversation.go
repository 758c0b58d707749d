// internal/client/tui/conversation.go
package tui

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"chatview/internal/client/models"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// BottomThreshold is how many lines above the end still count as "at
// bottom" for auto-scrolling.
const BottomThreshold = 1

const (
	headerHeight = 2
	inputHeight  = 3
	sendTimeout  = 10 * time.Second
)

// MessageStore is what the conversation view needs from the chat store.
type MessageStore interface {
	Messages() []models.Message
	Loading() bool
	Partner() *models.User
	Err() error
	FetchHistory(partnerID string) func() error
	Subscribe() error
	Unsubscribe()
	Send(ctx context.Context, draft models.Draft) error
	Changes() <-chan struct{}
}

// resetter is optional; stores without it keep their list on cleanup.
type resetter interface {
	Reset()
}

// StoreChangedMsg is emitted whenever the store signals a mutation.
type StoreChangedMsg struct{}

type historyDoneMsg struct {
	partnerID string
	err       error
}

type sentMsg struct {
	line string
	err  error
}

// ConversationModel renders the selected conversation: header, message list
// or skeleton, input, and the image overlay.
type ConversationModel struct {
	store   MessageStore
	self    models.User
	logger  *slog.Logger
	bubbles *BubbleRenderer

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	overlay  ImageOverlay

	activePartner string
	atBottom      bool
	imageLines    map[int]string
	lastImage     string

	originX, originY int
	width, height    int
}

func NewConversationModel(store MessageStore, self models.User, logger *slog.Logger) ConversationModel {
	if logger == nil {
		logger = slog.Default()
	}

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Focus()
	input.CharLimit = 1000

	vp := viewport.New(0, 0)
	vp.KeyMap = viewport.KeyMap{
		PageDown:     key.NewBinding(key.WithKeys("pgdown")),
		PageUp:       key.NewBinding(key.WithKeys("pgup")),
		HalfPageUp:   key.NewBinding(key.WithKeys("ctrl+u")),
		HalfPageDown: key.NewBinding(key.WithKeys("ctrl+d")),
		Up:           key.NewBinding(key.WithKeys("up")),
		Down:         key.NewBinding(key.WithKeys("down")),
	}

	return ConversationModel{
		store:      store,
		self:       self,
		logger:     logger.With("component", "conversation"),
		bubbles:    NewBubbleRenderer(),
		viewport:   vp,
		input:      input,
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		overlay:    NewImageOverlay(),
		atBottom:   true,
		imageLines: make(map[int]string),
	}
}

// Init starts listening to the store and runs the lifecycle for whatever
// partner is already selected.
func (m *ConversationModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChanges(), m.syncPartner())
}

func (m ConversationModel) waitForChanges() tea.Cmd {
	changes := m.store.Changes()
	return func() tea.Msg {
		<-changes
		return StoreChangedMsg{}
	}
}

// SetOrigin places the view on screen so mouse events can be mapped.
func (m *ConversationModel) SetOrigin(x, y int) {
	m.originX = x
	m.originY = y
}

func (m *ConversationModel) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(0, height-headerHeight-inputHeight)
	m.input.Width = max(1, width-8)
	m.refresh()
}

// SetScreen sizes the overlay, which always covers the whole terminal.
func (m *ConversationModel) SetScreen(width, height int) {
	m.overlay.SetSize(width, height)
}

func (m *ConversationModel) Focus() {
	m.input.Focus()
}

func (m *ConversationModel) Blur() {
	m.input.Blur()
}

func (m ConversationModel) AtBottom() bool {
	return m.atBottom
}

func (m ConversationModel) SelectedImage() string {
	return m.overlay.Selected()
}

func (m ConversationModel) OverlayActive() bool {
	return m.overlay.Active()
}

// Close runs the cleanup half of the lifecycle.
func (m *ConversationModel) Close() {
	if m.activePartner != "" {
		m.cleanup()
		m.activePartner = ""
	}
}

// syncPartner reruns the lifecycle when the selected partner's ID changed:
// cleanup for the old partner, then fetch and subscribe for the new one.
func (m *ConversationModel) syncPartner() tea.Cmd {
	id := ""
	if p := m.store.Partner(); p != nil {
		id = p.ID
	}
	if id == m.activePartner {
		return nil
	}

	if m.activePartner != "" {
		m.cleanup()
	}
	m.activePartner = id
	m.atBottom = true
	m.overlay.Close()
	if id == "" {
		return nil
	}

	m.logger.Debug("loading conversation", "partner_id", id)
	fetch := m.store.FetchHistory(id)
	if err := m.store.Subscribe(); err != nil {
		m.logger.Error("subscribe failed", "partner_id", id, "error", err)
	}
	return tea.Batch(
		func() tea.Msg {
			return historyDoneMsg{partnerID: id, err: fetch()}
		},
		m.spinner.Tick,
	)
}

// cleanup clears the list first, then tears down the subscription.
func (m *ConversationModel) cleanup() {
	if r, ok := m.store.(resetter); ok {
		r.Reset()
	}
	m.store.Unsubscribe()
}

func (m ConversationModel) Update(msg tea.Msg) (ConversationModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case StoreChangedMsg:
		cmds = append(cmds, m.syncPartner(), m.waitForChanges())
		m.refresh()
		return m, tea.Batch(cmds...)

	case models.PartnerSelected:
		cmd := m.syncPartner()
		m.refresh()
		return m, cmd

	case historyDoneMsg:
		if msg.err != nil {
			m.logger.Warn("history fetch ended with error", "partner_id", msg.partnerID, "error", msg.err)
		}
		m.refresh()
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.logger.Error("error sending message", "error", msg.err)
			if m.input.Value() == "" {
				m.input.SetValue(msg.line)
			}
		} else {
			m.viewport.GotoBottom()
			m.atBottom = true
		}
		m.refresh()
		return m, nil

	case previewLoadedMsg:
		m.overlay.HandlePreview(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.store.Loading() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.overlay.Active() {
			if msg.String() == "esc" {
				m.overlay.Close()
			}
			return m, nil
		}

		switch msg.String() {
		case "enter":
			cmd := m.send()
			return m, cmd
		case "ctrl+o":
			if !m.listVisible() || m.lastImage == "" {
				return m, nil
			}
			cmd := m.overlay.Open(m.lastImage)
			return m, cmd
		}

		var cmd tea.Cmd
		if m.listVisible() {
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
			m.onScroll()
		}

		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case tea.MouseMsg:
		if m.overlay.Active() {
			if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
				m.overlay.HandleClick(msg.X, msg.Y)
			}
			return m, nil
		}
		// the skeleton is not interactive
		if !m.listVisible() {
			return m, nil
		}

		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			if ref, ok := m.imageAt(msg.X, msg.Y); ok {
				cmd := m.overlay.Open(ref)
				return m, cmd
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.onScroll()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *ConversationModel) send() tea.Cmd {
	line := m.input.Value()
	draft := models.ParseDraft(line)
	if draft.IsEmpty() || m.activePartner == "" {
		return nil
	}
	m.input.Reset()

	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return sentMsg{line: line, err: store.Send(ctx, draft)}
	}
}

// listVisible is false while the skeleton stands in for the message list.
func (m ConversationModel) listVisible() bool {
	return !m.store.Loading() && m.store.Partner() != nil
}

// onScroll recomputes the bottom flag after the viewport moved.
func (m *ConversationModel) onScroll() {
	m.atBottom = m.isAtBottom()
}

func (m ConversationModel) maxOffset() int {
	return max(0, m.viewport.TotalLineCount()-m.viewport.Height)
}

func (m ConversationModel) isAtBottom() bool {
	return m.maxOffset()-m.viewport.YOffset <= BottomThreshold
}

func (m ConversationModel) imageAt(x, y int) (string, bool) {
	if x < m.originX || x >= m.originX+m.width {
		return "", false
	}
	row := y - m.originY - headerHeight
	if row < 0 || row >= m.viewport.Height {
		return "", false
	}
	ref, ok := m.imageLines[m.viewport.YOffset+row]
	return ref, ok
}

// refresh re-renders the message list and keeps the view pinned to the
// bottom when it was there before the update.
func (m *ConversationModel) refresh() {
	wasAtBottom := m.atBottom

	content, imageLines, lastImage := m.renderMessages()
	m.imageLines = imageLines
	m.lastImage = lastImage
	m.viewport.SetContent(content)

	if wasAtBottom {
		m.viewport.GotoBottom()
	}
	m.atBottom = m.isAtBottom()
}

func (m ConversationModel) renderMessages() (string, map[int]string, string) {
	imageLines := make(map[int]string)
	partner := m.store.Partner()
	if !m.listVisible() || m.width <= 0 {
		return "", imageLines, ""
	}

	var sb strings.Builder
	line := 0
	lastImage := ""
	for i, msg := range m.store.Messages() {
		if i > 0 {
			sb.WriteString("\n\n")
			line++
		}
		b := m.bubbles.Render(msg, m.self, partner, m.width)
		if b.ImageLine >= 0 {
			imageLines[line+b.ImageLine] = msg.Image
			lastImage = msg.Image
		}
		sb.WriteString(b.Text)
		line += b.Lines
	}
	return sb.String(), imageLines, lastImage
}

func (m ConversationModel) renderHeader() string {
	partner := m.store.Partner()

	var title, status string
	if partner == nil {
		title = "No conversation"
		status = subtleStyle.Render("Select a contact to start chatting")
	} else {
		title = partner.DisplayName()
		status = avatarStyle.Render("(" + partner.Avatar() + ")")
		if m.store.Loading() {
			status += " " + m.spinner.View() + subtleStyle.Render(" loading messages")
		}
	}
	if err := m.store.Err(); err != nil {
		status = errorStyle.Render(truncate(err.Error(), max(10, m.width-2)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(title), status)
}

func (m ConversationModel) View() string {
	var sb strings.Builder

	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")

	if !m.listVisible() {
		sb.WriteString(renderSkeleton(m.width, m.viewport.Height))
	} else {
		sb.WriteString(m.viewport.View())
	}
	sb.WriteString("\n")
	sb.WriteString(inputStyle.Render(m.input.View()))

	return sb.String()
}

// OverlayView is rendered by the app in place of the whole screen.
func (m ConversationModel) OverlayView() string {
	return m.overlay.View()
}
