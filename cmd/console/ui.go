package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/situation-engine/internal/handlers"
	"github.com/jwebster45206/situation-engine/internal/services/events"
	"github.com/jwebster45206/situation-engine/pkg/engine"
)

const PlaceHolderText = "Type /help for commands..."

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	api          *apiClient
	slot         *handlers.SlotResponse
	actorID      string
	logViewport  viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	lines        []string
	ready        bool
	width        int
	height       int
	err          error

	// Slot selection state. Index 0 is "new slot".
	showSlotModal bool
	slots         []uuid.UUID
	selectedSlot  int
	loadingSlots  bool
	opening       bool

	// Quit confirmation state
	showQuitModal bool

	// Event stream
	eventChan chan events.Event
	cancel    context.CancelFunc

	// Commands sent but not yet completed or failed
	inFlight     map[string]string
	progressTick int
}

type slotsLoadedMsg struct {
	slots []uuid.UUID
	err   error
}

type slotOpenedMsg struct {
	slot *handlers.SlotResponse
	err  error
}

type slotRefreshedMsg struct {
	slot *handlers.SlotResponse
	err  error
}

type commandSentMsg struct {
	accepted *handlers.CommandAccepted
	err      error
}

type eventMsg struct {
	event events.Event
}

type streamClosedMsg struct {
	err error
}

type progressTickMsg struct{}

var (
	logPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	clockStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	availableStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(cfg *ConsoleConfig, api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 500
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	logVp := viewport.New(50, 20)
	logVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:        cfg,
		api:           api,
		actorID:       cfg.ActorID,
		textarea:      ta,
		logViewport:   logVp,
		metaViewport:  metaVp,
		showSlotModal: true,
		loadingSlots:  true,
		inFlight:      make(map[string]string),
	}
}

// formatEntry renders one journal line
func formatEntry(clock, kind, name, text string, width int) string {
	head := clockStyle.Render("["+clock+"]") + " " + kindStyle.Render(kind)
	if name != "" {
		head += " " + name
	}
	if text == "" {
		return head
	}
	return head + "\n  " + strings.ReplaceAll(wordwrap.String(text, max(width-2, 10)), "\n", "\n  ")
}

func formatJournalEntry(e engine.JournalEntry, width int) string {
	return formatEntry(e.Time.String(), string(e.Kind), e.SeedID, e.Text, width)
}

func formatJournalEvent(data map[string]any, width int) string {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}
	return formatEntry(str("time"), str("kind"), str("seed_id"), str("text"), width)
}

// activeIDs lists situation ids in side panel order
func (m *ConsoleUI) activeIDs() []string {
	if m.slot == nil {
		return nil
	}
	ids := make([]string, 0, len(m.slot.Active))
	for _, s := range m.slot.Active {
		ids = append(ids, s.ID)
	}
	return ids
}

func writeMetadata(slot *handlers.SlotResponse, actorID string, width int) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SLOT") + "\n\n")
	content.WriteString(slot.ID.String()[:8] + "...\n")
	content.WriteString(slot.Clock + "\n")
	content.WriteString("Acting as: " + actorID + "\n\n")

	content.WriteString(titleStyle.Render("SITUATIONS") + "\n\n")
	if len(slot.Active) == 0 {
		content.WriteString("Nothing known yet\n")
	}
	for i, s := range slot.Active {
		fmt.Fprintf(&content, "%d. %s (%s)\n", i+1, s.Name, s.State)
		if s.ExpiresAt != nil {
			content.WriteString(clockStyle.Render("   expires "+s.ExpiresAt.String()) + "\n")
		}
		fmt.Fprintf(&content, "   confidence %.0f%%\n", s.Confidence*100)
		for _, b := range s.Branches {
			if b.Available {
				content.WriteString(availableStyle.Render("   ✓ "+b.ID) + "\n")
				continue
			}
			line := "   ✗ " + b.ID
			if b.Reason != "" {
				line += ": " + b.Reason
			}
			content.WriteString(promptStyle.Render(wordwrap.String(line, max(width, 20))) + "\n")
		}
		content.WriteString("\n")
	}

	fmt.Fprintf(&content, "Pending consequences: %d\n\n", len(slot.Pending))

	content.WriteString(titleStyle.Render("WORLD") + "\n\n")
	if len(slot.World.Vars) == 0 {
		content.WriteString("No variables set\n")
	}
	names := make([]string, 0, len(slot.World.Vars))
	for k := range slot.World.Vars {
		names = append(names, k)
	}
	slices.Sort(names)
	for _, k := range names {
		fmt.Fprintf(&content, "• %s: %s\n", k, slot.World.Vars[k].String())
	}

	content.WriteString("\n")
	content.WriteString("Keys:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")

	return content.String()
}

// writeLog redraws the journal panel for the current viewport width
func (m *ConsoleUI) writeLog() {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SITUATION ENGINE") + "\n\n")
	content.WriteString("Type /help for the list of commands.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(m.logViewport.Width-6, 1))) + "\n\n")
	for _, line := range m.lines {
		content.WriteString(line + "\n")
	}
	if len(m.inFlight) > 0 {
		content.WriteString("\n" + m.renderProgressBar())
	}
	m.logViewport.SetContent(content.String())
	m.logViewport.GotoBottom()
}

func (m *ConsoleUI) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.writeLog()
}

func (m *ConsoleUI) logWidth() int {
	return max(m.logViewport.Width-6, 20)
}

func (m *ConsoleUI) resize() {
	logWidth := int(float64(m.width)*0.65) - 4
	metaWidth := m.width - logWidth - 6

	m.logViewport.Width = logWidth - 2
	m.logViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(logWidth - 4)
}

func (m *ConsoleUI) refreshMeta() {
	if m.slot != nil {
		m.metaViewport.SetContent(writeMetadata(m.slot, m.actorID, m.metaViewport.Width))
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return m.loadSlots()
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showSlotModal {
		return m.updateSlotModal(msg)
	}

	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.logViewport, vpCmd = m.logViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.writeLog()
		m.refreshMeta()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			return m.handleInput(input)
		}

	case commandSentMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Error: " + msg.err.Error()))
			return m, nil
		}
		m.inFlight[msg.accepted.RequestID] = string(msg.accepted.Type)
		m.writeLog()
		if len(m.inFlight) == 1 {
			m.progressTick = 0
			return m, progressTick()
		}
		return m, nil

	case eventMsg:
		return m.handleEvent(msg.event)

	case streamClosedMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Event stream closed: " + msg.err.Error()))
		}
		return m, nil

	case slotRefreshedMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("Error: " + msg.err.Error()))
			return m, nil
		}
		m.slot = msg.slot
		m.refreshMeta()
		return m, nil

	case progressTickMsg:
		if len(m.inFlight) > 0 {
			m.progressTick++
			m.writeLog()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.logViewport, vpCmd = m.logViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleInput(input string) (tea.Model, tea.Cmd) {
	parsed, err := parseInput(input, m.slot.ID, m.actorID, m.activeIDs())
	if err != nil {
		m.appendLine(errorStyle.Render(err.Error()))
		return m, nil
	}

	switch parsed.action {
	case actionHelp:
		m.appendLine(titleStyle.Render("Help:") + "\n" + helpText + "\n")
		return m, nil
	case actionRefresh:
		return m, m.refreshSlot()
	case actionCopy:
		if err := clipboard.WriteAll(m.slot.ID.String()); err != nil {
			m.appendLine(errorStyle.Render("Could not copy slot id: " + err.Error()))
		} else {
			m.appendLine(promptStyle.Render("Copied slot id " + m.slot.ID.String()))
		}
		return m, nil
	case actionActor:
		m.actorID = parsed.arg
		m.appendLine(promptStyle.Render("Now acting as " + m.actorID))
		return m, m.refreshSlot()
	}

	m.appendLine(commandStyle.Render("> " + input))
	return m, m.sendCommand(parsed)
}

func (m ConsoleUI) handleEvent(ev events.Event) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.eventChan)

	switch ev.Type {
	case events.EventTypeJournalEntry:
		m.appendLine(formatJournalEvent(ev.Data, m.logWidth()))
	case events.EventTypeCommandFailed:
		delete(m.inFlight, ev.RequestID)
		reason, _ := ev.Data["error"].(string)
		if code, ok := ev.Data["code"].(string); ok && code != "" {
			reason = code + ": " + reason
		}
		m.appendLine(errorStyle.Render("Refused: " + reason))
		return m, tea.Batch(next, m.refreshSlot())
	case events.EventTypeCommandCompleted:
		delete(m.inFlight, ev.RequestID)
		m.writeLog()
		return m, tea.Batch(next, m.refreshSlot())
	}
	return m, next
}

func (m ConsoleUI) sendCommand(parsed parsedInput) tea.Cmd {
	return func() tea.Msg {
		accepted, err := m.api.sendCommand(parsed.command)
		return commandSentMsg{accepted, err}
	}
}

func (m ConsoleUI) refreshSlot() tea.Cmd {
	id, actorID := m.slot.ID, m.actorID
	return func() tea.Msg {
		slot, err := m.api.getSlot(id, actorID)
		return slotRefreshedMsg{slot, err}
	}
}

func (m ConsoleUI) loadSlots() tea.Cmd {
	return func() tea.Msg {
		slots, err := m.api.listSlots()
		return slotsLoadedMsg{slots, err}
	}
}

func (m ConsoleUI) openSlot(index int) tea.Cmd {
	actorID := m.actorID
	if index == 0 {
		vars := parseVars(getEnv("SLOT_VARS", ""))
		return func() tea.Msg {
			slot, err := m.api.createSlot(vars)
			if err != nil {
				return slotOpenedMsg{nil, err}
			}
			// Re-read so the active list reflects the acting character
			slot, err = m.api.getSlot(slot.ID, actorID)
			return slotOpenedMsg{slot, err}
		}
	}
	id := m.slots[index-1]
	return func() tea.Msg {
		slot, err := m.api.getSlot(id, actorID)
		return slotOpenedMsg{slot, err}
	}
}

// parseVars reads "name=value name=value" for a new slot's world
func parseVars(raw string) map[string]any {
	vars := make(map[string]any)
	for _, field := range strings.Fields(raw) {
		if k, v, ok := strings.Cut(field, "="); ok && k != "" {
			vars[k] = scalar(v)
		}
	}
	return vars
}

// startStream opens the websocket and returns the first wait
func (m *ConsoleUI) startStream() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.eventChan = make(chan events.Event, 64)
	ch, api, id := m.eventChan, m.api, m.slot.ID
	listen := func() tea.Msg {
		err := api.listenToEvents(ctx, id, ch)
		return streamClosedMsg{err}
	}
	return tea.Batch(listen, waitForEvent(ch))
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{ev}
	}
}

func (m ConsoleUI) updateSlotModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case slotsLoadedMsg:
		m.loadingSlots = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.slots = msg.slots
		}

	case slotOpenedMsg:
		m.opening = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.slot = msg.slot
		m.showSlotModal = false
		if m.width > 0 && m.height > 0 {
			m.resize()
		}
		for _, e := range m.slot.Journal {
			m.lines = append(m.lines, formatJournalEntry(e, m.logWidth()))
		}
		m.writeLog()
		m.refreshMeta()
		m.textarea.Focus()
		m.ready = true
		return m, tea.Batch(textarea.Blink, m.startStream())

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			if m.loadingSlots || m.err != nil {
				return m, tea.Quit
			}
			m.showQuitModal = true
			m.showSlotModal = false
			return m, nil
		}
		if m.loadingSlots || m.opening || m.err != nil {
			return m, nil
		}

		switch msg.Type {
		case tea.KeyUp:
			if m.selectedSlot > 0 {
				m.selectedSlot--
			}
		case tea.KeyDown:
			if m.selectedSlot < len(m.slots) {
				m.selectedSlot++
			}
		case tea.KeyEnter:
			m.opening = true
			return m, m.openSlot(m.selectedSlot)
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m.quit()
		default:
			switch msg.String() {
			case "y", "Y":
				return m.quit()
			case "n", "N":
				m.showQuitModal = false
				if m.slot == nil {
					m.showSlotModal = true
					return m, nil
				}
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	return m, tea.Quit
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("The slot stays on the server and can be reopened later.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderSlotModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.loadingSlots:
		content.WriteString(modalTitleStyle.Render("Loading Slots..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch saved slots..."))
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(fmt.Sprintf("%v", m.err)))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case m.opening:
		content.WriteString(modalTitleStyle.Render("Opening Slot..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Running the first tick..."))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Slot"))
		content.WriteString("\n\n")

		items := []string{"New slot"}
		for _, id := range m.slots {
			items = append(items, id.String())
		}
		for i, item := range items {
			if i == m.selectedSlot {
				content.WriteString(modalSelectedItemStyle.Render(fmt.Sprintf("▶ %s", item)))
			} else {
				content.WriteString(modalItemStyle.Render(fmt.Sprintf("  %s", item)))
			}
			content.WriteString("\n")
		}

		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showSlotModal {
		return m.renderSlotModal()
	}

	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	logWidth := int(float64(m.width)*0.65) - 4
	metaWidth := m.width - logWidth - 6

	logPanel := logPanelStyle.Width(logWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.logViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(logWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, logPanel, metaPanel)
}

// renderProgressBar animates while commands are queued
func (m ConsoleUI) renderProgressBar() string {
	usable := m.logViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := range usable {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled && frame%4 < 2:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
