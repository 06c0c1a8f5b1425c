// Package tui is the interactive strip board: a live LED preview bar,
// a segment ruler with mouse-drag reordering, and a scrolling event
// log, all driven by the engine's output channel.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	glam "github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	enginepkg "github.com/glowdeck/stripsync/internal/core/engine"
	"github.com/glowdeck/stripsync/pkg/ledwire"
)

type eventMsg struct{ evt enginepkg.EngineEvent }
type engineDoneMsg struct{}
type commandResultMsg struct {
	action string
	err    error
}

// Rows above the viewport: header, LED bar, ruler, blank spacer.
const chromeRows = 4

var modeCycle = []enginepkg.Mode{
	enginepkg.ModeAmbientLight,
	enginepkg.ModeTestEffect,
	enginepkg.ModeStripConfig,
	enginepkg.ModeColorCalibration,
}

const helpMarkdown = `# Strip board keys

| Key | Action |
| --- | --- |
| left / right | select segment |
| r | reverse selected segment |
| m | cycle data send mode |
| + / - | grow / shrink selected segment |
| t | toggle RGB / RGBW on selected segment |
| mouse drag | reorder a segment on the ruler |
| ? | toggle this help |
| q / ctrl+c | quit |

Moves are confirmed by the backend: the ruler only reorders when the
next configuration snapshot arrives.
`

type model struct {
	engine *enginepkg.Engine
	cancel context.CancelFunc

	vp     viewport.Model
	spin   spinner.Model
	width  int
	height int
	ready  bool

	connected bool
	polling   bool
	mode      enginepkg.Mode
	frame     *enginepkg.RenderFrame
	segments  []enginepkg.StripSegment
	selected  int

	logLines []string

	showHelp     bool
	helpRendered string
	glam         *glam.TermRenderer

	headerStyle lipgloss.Style
	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style
	rulerStyle  lipgloss.Style
	selectStyle lipgloss.Style
	dragStyle   lipgloss.Style
	border      lipgloss.Style
}

func newModel(eng *enginepkg.Engine, cancel context.CancelFunc) *model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	m := &model{
		engine:      eng,
		cancel:      cancel,
		vp:          viewport.Model{},
		spin:        sp,
		connected:   true,
		mode:        enginepkg.ModeNone,
		headerStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		rulerStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		selectStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("63")),
		dragStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")),
		border:      lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")),
	}
	_ = m.rebuildRenderer(80)
	return m
}

func waitForEvent(eng *enginepkg.Engine) tea.Cmd {
	return func() tea.Msg {
		select {
		case evt := <-eng.Outputs():
			return eventMsg{evt: evt}
		case <-eng.Done():
			return engineDoneMsg{}
		}
	}
}

// rebuildRenderer recreates the Glamour renderer with the given wrap width.
func (m *model) rebuildRenderer(wrap int) error {
	if wrap < 10 {
		wrap = 10
	}
	r, err := glam.NewTermRenderer(
		glam.WithStylePath("dark"), // fixed style to avoid OSC queries
		glam.WithWordWrap(wrap),
	)
	if err != nil {
		return err
	}
	m.glam = r
	m.helpRendered = ""
	return nil
}

func (m *model) renderHelp() string {
	if m.helpRendered != "" {
		return m.helpRendered
	}
	if m.glam == nil {
		m.helpRendered = helpMarkdown
		return m.helpRendered
	}
	rendered, err := m.glam.Render(helpMarkdown)
	if err != nil {
		m.helpRendered = helpMarkdown
	} else {
		m.helpRendered = rendered
	}
	return m.helpRendered
}

func (m *model) recalcLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	vpH := m.height - chromeRows - 2
	if vpH < 3 {
		vpH = 3
	}
	m.vp.Width = m.width
	m.vp.Height = vpH
	_ = m.rebuildRenderer(m.width - 4)
	m.engine.Reorder().SetContainerWidth(float64(m.barWidth()))
}

func (m *model) barWidth() int {
	w := m.width - 2
	if w < 1 {
		w = 1
	}
	return w
}

func (m *model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > 500 {
		m.logLines = m.logLines[len(m.logLines)-500:]
	}
	m.vp.SetContent(strings.Join(m.logLines, "\n"))
	m.vp.GotoBottom()
}

func (m *model) selectedSegment() (enginepkg.StripSegment, bool) {
	if m.selected < 0 || m.selected >= len(m.segments) {
		return enginepkg.StripSegment{}, false
	}
	return m.segments[m.selected], true
}

// segmentAtColumn hit-tests a bar column against the segment layout.
func (m *model) segmentAtColumn(col int) (enginepkg.StripSegment, bool) {
	total := 0
	for _, seg := range m.segments {
		total += seg.Length
	}
	if total == 0 || m.barWidth() == 0 {
		return enginepkg.StripSegment{}, false
	}
	led := col * total / m.barWidth()
	for _, seg := range m.segments {
		if led < seg.Length {
			return seg, true
		}
		led -= seg.Length
	}
	return enginepkg.StripSegment{}, false
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.engine), m.spin.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		m.ready = true
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		return m.updateKey(msg, cmds)

	case tea.MouseMsg:
		return m.updateMouse(msg, cmds)

	case eventMsg:
		m.applyEvent(msg.evt)
		return m, tea.Batch(append(cmds, waitForEvent(m.engine))...)

	case engineDoneMsg:
		m.appendLog(m.statusStyle.Render("[closed] engine stopped"))
		return m, tea.Tick(time.Second, func(time.Time) tea.Msg { return tea.Quit() })

	case commandResultMsg:
		if msg.err != nil {
			m.appendLog(m.errorStyle.Render("[error] ") + msg.action + ": " + msg.err.Error())
		}
		return m, tea.Batch(cmds...)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, tea.Batch(cmds...)
	case "left":
		if m.selected > 0 {
			m.selected--
		}
		return m, tea.Batch(cmds...)
	case "right":
		if m.selected < len(m.segments)-1 {
			m.selected++
		}
		return m, tea.Batch(cmds...)
	case "r":
		seg, ok := m.selectedSegment()
		if !ok {
			return m, tea.Batch(cmds...)
		}
		reorder := m.engine.Reorder()
		return m, tea.Batch(append(cmds, func() tea.Msg {
			return commandResultMsg{action: "reverse " + seg.ID, err: reorder.Reverse(context.Background(), seg.ID)}
		})...)
	case "m":
		next := nextMode(m.mode)
		eng := m.engine
		return m, tea.Batch(append(cmds, func() tea.Msg {
			return commandResultMsg{action: "set mode " + string(next), err: eng.SetMode(context.Background(), next)}
		})...)
	case "+", "=":
		return m.patchLenCmd(1, cmds)
	case "-":
		return m.patchLenCmd(-1, cmds)
	case "t":
		seg, ok := m.selectedSegment()
		if !ok {
			return m, tea.Batch(cmds...)
		}
		next := ledwire.TypeRGBW
		if seg.LedType == ledwire.TypeRGBW {
			next = ledwire.TypeRGB
		}
		eng := m.engine
		return m, tea.Batch(append(cmds, func() tea.Msg {
			return commandResultMsg{
				action: "set type " + string(next),
				err:    eng.PatchStripType(context.Background(), seg.DisplayID, seg.Border, next),
			}
		})...)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) patchLenCmd(delta int, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	seg, ok := m.selectedSegment()
	if !ok {
		return m, tea.Batch(cmds...)
	}
	eng := m.engine
	return m, tea.Batch(append(cmds, func() tea.Msg {
		return commandResultMsg{
			action: fmt.Sprintf("resize %s by %+d", seg.ID, delta),
			err:    eng.PatchStripLen(context.Background(), seg.DisplayID, seg.Border, delta),
		}
	})...)
}

// updateMouse maps pointer gestures on the ruler row onto the reorder
// controller's drag lifecycle.
func (m *model) updateMouse(msg tea.MouseMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	reorder := m.engine.Reorder()
	x := float64(msg.X)

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return m, tea.Batch(cmds...)
		}
		if _, dragging := reorder.DraggedSegment(); dragging {
			_ = reorder.UpdateDrag(x)
			return m, tea.Batch(cmds...)
		}
		seg, ok := m.segmentAtColumn(msg.X)
		if !ok {
			return m, tea.Batch(cmds...)
		}
		if err := reorder.BeginDrag(seg.ID, x, float64(m.barWidth())); err == nil {
			for i, s := range m.segments {
				if s.ID == seg.ID {
					m.selected = i
				}
			}
		}
		return m, tea.Batch(cmds...)

	case tea.MouseActionMotion:
		_ = reorder.UpdateDrag(x)
		return m, tea.Batch(cmds...)

	case tea.MouseActionRelease:
		if _, dragging := reorder.DraggedSegment(); !dragging {
			return m, tea.Batch(cmds...)
		}
		return m, tea.Batch(append(cmds, func() tea.Msg {
			return commandResultMsg{action: "move segment", err: reorder.EndDrag(context.Background(), x)}
		})...)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) applyEvent(evt enginepkg.EngineEvent) {
	switch evt.Type {
	case enginepkg.EventTypeFrame:
		m.frame = evt.Frame
		if evt.Frame != nil {
			m.mode = evt.Frame.Mode
		}
	case enginepkg.EventTypeConfig:
		m.segments = evt.Segments
		if m.selected >= len(m.segments) {
			m.selected = len(m.segments) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		m.appendLog(m.statusStyle.Render("[config] ") + evt.Message)
	case enginepkg.EventTypeConnection:
		if evt.Metadata != nil {
			if connected, ok := evt.Metadata["connected"].(bool); ok {
				m.connected = connected
				m.polling = !connected
			}
		}
		m.appendLog(m.statusStyle.Render("[link] ") + evt.Message)
	case enginepkg.EventTypeError:
		m.appendLog(m.errorStyle.Render("[error] ") + evt.Message)
	default:
		m.appendLog(m.statusStyle.Render("[status] ") + evt.Message)
	}
}

func nextMode(current enginepkg.Mode) enginepkg.Mode {
	for i, mode := range modeCycle {
		if mode == current {
			return modeCycle[(i+1)%len(modeCycle)]
		}
	}
	return modeCycle[0]
}

func (m model) View() string {
	if !m.ready {
		return "Initializing…"
	}
	if m.showHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	bar := m.renderLedBar()
	ruler := m.renderRuler()
	log := m.border.Render(m.vp.View())
	footer := m.statusStyle.Render("←/→ select  r reverse  m mode  +/- resize  t type  ? help  q quit")

	return strings.Join([]string{header, bar, ruler, "", log, footer}, "\n")
}

func (m model) renderHeader() string {
	link := "connected"
	if !m.connected {
		link = m.spin.View() + "polling"
	}
	gen := uint64(0)
	if m.frame != nil {
		gen = m.frame.Generation
	}
	return m.headerStyle.Render("stripsync") +
		m.statusStyle.Render(fmt.Sprintf("  %s  mode=%s  frame=%d  segments=%d", link, m.mode, gen, len(m.segments)))
}

// renderLedBar paints one terminal cell per bar column, sampled from
// the latest logical frame.
func (m model) renderLedBar() string {
	width := m.barWidth()
	colors := m.frameColors()
	if len(colors) == 0 {
		return m.rulerStyle.Render(strings.Repeat("·", width))
	}

	var b strings.Builder
	b.Grow(width * 12)
	for col := 0; col < width; col++ {
		led := col * len(colors) / width
		hex := colors[led].Hex()
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("█"))
	}
	return " " + b.String()
}

// frameColors decodes the logical frame buffer into per-LED colors
// using each segment's stride.
func (m model) frameColors() []ledwire.Color {
	if m.frame == nil || len(m.frame.Buffer) == 0 {
		return nil
	}
	var colors []ledwire.Color
	buf := m.frame.Buffer
	at := 0
	for _, seg := range m.segments {
		stride := ledwire.BytesPerLed(seg.LedType)
		for i := 0; i < seg.Length && at+stride <= len(buf); i++ {
			c := ledwire.Color{R: buf[at], G: buf[at+1], B: buf[at+2]}
			if stride == 4 {
				c.W = buf[at+3]
			}
			colors = append(colors, c)
			at += stride
		}
	}
	return colors
}

// renderRuler draws one labelled span per segment, highlighting the
// selection and the in-flight drag.
func (m model) renderRuler() string {
	width := m.barWidth()
	if len(m.segments) == 0 {
		return m.rulerStyle.Render(" no strips configured")
	}
	total := 0
	for _, seg := range m.segments {
		total += seg.Length
	}
	if total == 0 {
		return ""
	}

	draggedID, dragging := m.engine.Reorder().DraggedSegment()
	var b strings.Builder
	for i, seg := range m.segments {
		span := seg.Length * width / total
		if span < 3 {
			span = 3
		}
		label := fmt.Sprintf("%s:%d", shortBorder(seg.Border), seg.Length)
		if len(label) > span {
			label = label[:span]
		}
		cell := "|" + label + strings.Repeat("-", span-len(label)-1)
		switch {
		case dragging && seg.ID == draggedID:
			b.WriteString(m.dragStyle.Render(cell))
		case i == m.selected:
			b.WriteString(m.selectStyle.Render(cell))
		default:
			b.WriteString(m.rulerStyle.Render(cell))
		}
	}
	return " " + b.String()
}

func shortBorder(border enginepkg.Border) string {
	if border == "" {
		return "?"
	}
	return string(border[0])
}

// Run launches the Bubble Tea strip board over an already-constructed
// engine. Returns a POSIX-style exit code.
func Run(ctx context.Context, options enginepkg.EngineOptions) int {
	// Prevent OSC background color queries from contaminating stdin by
	// explicitly setting color profile and background for lipgloss/termenv.
	lipgloss.SetColorProfile(termenv.TrueColor)
	lipgloss.SetHasDarkBackground(true)

	eng, err := enginepkg.New(options)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create engine:", err)
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = eng.Run(runCtx) }()
	defer eng.Teardown()

	p := tea.NewProgram(newModel(eng, cancel), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui error:", err)
		return 1
	}
	cancel()
	return 0
}
