package sim

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"manet-sim/internal/config"
	"manet-sim/internal/fabric"
	"manet-sim/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// sampleMsg carries the latest throughput sample.
type sampleMsg struct{ telemetry.SampleRow }

// flowsMsg carries the end of run flow summary.
type flowsMsg struct{ rows []telemetry.FlowStatRow }

// adminMsg reports admin UI status.
type adminMsg struct{ active bool }

const (
	maxLogLines         = 1000
	maxRateHistory      = 40
	maxSectionHeightPct = 0.25
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// TUIWriter renders samples and receipts using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(cfg *config.ExperimentConfig) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements SampleWriter.
func (w *TUIWriter) Write(row telemetry.SampleRow) error {
	w.program.Send(logMsg{line: sampleLine(row)})
	w.program.Send(sampleMsg{row})
	return nil
}

// WriteBatch outputs multiple samples.
func (w *TUIWriter) WriteBatch(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteReceiveEvent implements ReceiveEventWriter.
func (w *TUIWriter) WriteReceiveEvent(e telemetry.ReceiveEventRow) error {
	line := fmt.Sprintf("%s%s%s %sRX%s %snode=%d%s %sbytes=%d%s",
		colorGray, strconv.FormatFloat(e.SimSeconds, 'f', -1, 64), colorReset,
		colorGreen, colorReset,
		colorBlue, e.NodeID, colorReset,
		colorCyan, e.Bytes, colorReset)
	if e.From != "" {
		line += fmt.Sprintf(" %sfrom=%s%s", colorMagenta, e.From, colorReset)
	}
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteFlowStats implements FlowStatsWriter.
func (w *TUIWriter) WriteFlowStats(rows []telemetry.FlowStatRow) error {
	w.program.Send(flowsMsg{rows: rows})
	return nil
}

// SetAdminStatus updates the admin UI indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

func sampleLine(row telemetry.SampleRow) string {
	rateColor := colorGreen
	if row.PacketsReceived == 0 {
		rateColor = colorYellow
	}
	return fmt.Sprintf("%st=%.1fs%s %s%s%s %srate=%.3fkbps%s %spkts=%d%s %ssinks=%d%s",
		colorGray, row.SimulationSecond, colorReset,
		colorBlue, row.RoutingProtocol, colorReset,
		rateColor, row.ReceiveRate, colorReset,
		colorCyan, row.PacketsReceived, colorReset,
		colorMagenta, row.NumberOfSinks, colorReset)
}

type tuiModel struct {
	cfg          *config.ExperimentConfig
	table        table.Model
	vp           viewport.Model
	flowVP       viewport.Model
	logs         []string
	flows        []telemetry.FlowStatRow
	last         telemetry.SampleRow
	haveSample   bool
	packets      int
	bytes        int64
	rates        []float64
	admin        bool
	wrap         bool
	autoscroll   bool
	help         bool
	showFlows    bool
	header       string
	headerHeight int
	height       int
}

func newTUIModel(cfg *config.ExperimentConfig) tuiModel {
	cols := []table.Column{
		{Title: "Config", Width: 14},
		{Title: "Value", Width: 22},
		{Title: "Config", Width: 14},
		{Title: "Value", Width: 22},
	}
	rows := []table.Row{
		{"Protocol", fabric.Protocol(cfg.Protocol).String(), "Topology", cfg.TopologySource()},
		{"Addressing", cfg.Addressing, "Subnet", cfg.Subnet},
		{"Radio", fmt.Sprintf("%s %.4g dBm", cfg.Radio.Standard, cfg.Radio.TxPowerDbm), "Range (m)", fmt.Sprintf("%.0f", cfg.Radio.RangeM)},
		{"Traffic", fmt.Sprintf("%dB @ %.0fbps", cfg.Traffic.PacketSize, cfg.Traffic.DataRateBps), "Campaign", fmt.Sprintf("%.1fs +%.2fs ±%.2fs", cfg.Campaign.StartTimeS, cfg.Campaign.ShiftS, cfg.Campaign.JitterS)},
		{"CSV", cfg.CSVFile, "CSV mode", cfg.CSVMode},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	m := tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		flowVP:     viewport.New(0, 0),
		autoscroll: true,
		showFlows:  true,
	}
	m.header = m.renderHeader()
	m.headerHeight = lipgloss.Height(m.header)
	m.refreshFlows()
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.flowVP.Width = msg.Width
		m.height = msg.Height
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
		m.refreshFlows()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "h", "?", "esc":
				m.help = false
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
				m.flowVP.GotoBottom()
			}
			return m, nil
		case "f":
			m.showFlows = !m.showFlows
			m.updateViewportHeight()
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		if !m.autoscroll {
			switch msg.String() {
			case "j", "down":
				m.vp.LineDown(1)
			case "k", "up":
				m.vp.LineUp(1)
			case "pgdown", "ctrl+n":
				m.vp.LineDown(10)
			case "pgup", "ctrl+p":
				m.vp.LineUp(10)
			default:
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
		return m, nil
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case sampleMsg:
		m.last = msg.SampleRow
		m.haveSample = true
		m.packets += msg.PacketsReceived
		m.bytes += msg.BytesReceived
		m.rates = append(m.rates, msg.ReceiveRate)
		if len(m.rates) > maxRateHistory {
			m.rates = m.rates[len(m.rates)-maxRateHistory:]
		}
	case flowsMsg:
		m.flows = msg.rows
		m.updateViewportHeight()
		m.refreshFlows()
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	flowHeight := 0
	if m.showFlows {
		lines := len(m.flows) + 1
		if limit := m.maxSectionLines(); lines > limit {
			lines = limit
		}
		m.flowVP.Height = lines
		flowHeight = 2 + lines
	}
	h := m.height - m.headerHeight - bottomHeight - flowHeight - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
		m.flowVP.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshFlows() {
	m.flowVP.SetContent(renderFlowLines(m.flows))
	if m.autoscroll {
		m.flowVP.GotoBottom()
	}
}

func renderFlowLines(rows []telemetry.FlowStatRow) string {
	if len(rows) == 0 {
		return "pending"
	}
	lines := []string{fmt.Sprintf("%-5s %-22s %-22s %5s %5s %6s %9s", "flow", "source", "destination", "tx", "rx", "pdr", "kbps")}
	for _, r := range rows {
		pdrColor := colorGreen
		if r.LostPackets > 0 {
			pdrColor = colorRed
		}
		lines = append(lines, fmt.Sprintf("%-5d %-22s %-22s %5d %5d %s%5.0f%%%s %9.3f",
			r.FlowID,
			fmt.Sprintf("%s:%d", r.Source, r.SourcePort),
			fmt.Sprintf("%s:%d", r.Destination, r.DestinationPort),
			r.TxPackets, r.RxPackets,
			pdrColor, r.DeliveryRatio()*100, colorReset,
			r.ThroughputKbps))
	}
	return strings.Join(lines, "\n")
}

func (m tuiModel) maxSectionLines() int {
	h := int(float64(m.height) * maxSectionHeightPct)
	if h < 1 {
		h = 1
	}
	return h
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{
		m.header,
		divider,
		m.vp.View(),
	}
	if m.showFlows {
		sections = append(sections, divider, "Flows:", m.flowVP.View())
	}
	sections = append(sections, divider, m.renderBottom())
	return strings.Join(sections, "\n")
}

func (m tuiModel) renderHeader() string {
	return m.table.View()
}

// sparkline scales values onto block glyphs relative to the largest one.
func sparkline(values []float64) string {
	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func (m tuiModel) renderStats() string {
	if !m.haveSample {
		return fmt.Sprintf("%sWAITING%s no samples yet", colorYellow, colorReset)
	}
	return fmt.Sprintf("%sSAMPLE%s %st=%.1fs%s %srate=%.3fkbps%s %spkts=%d%s %sbytes=%d%s %ssinks=%d%s %s%s%s",
		colorBlue, colorReset,
		colorGray, m.last.SimulationSecond, colorReset,
		colorGreen, m.last.ReceiveRate, colorReset,
		colorCyan, m.packets, colorReset,
		colorCyan, m.bytes, colorReset,
		colorMagenta, m.last.NumberOfSinks, colorReset,
		colorYellow, sparkline(m.rates), colorReset)
}

func indicator(on bool) string {
	c := lipgloss.Color("9")
	if on {
		c = lipgloss.Color("10")
	}
	return lipgloss.NewStyle().Foreground(c).Render("●")
}

func (m tuiModel) renderBottom() string {
	line := fmt.Sprintf("Admin UI %s | Wrap %s | Scroll %s | Flows %s | Help %s",
		indicator(m.admin), indicator(m.wrap), indicator(m.autoscroll), indicator(m.showFlows), indicator(m.help))
	return fmt.Sprintf("%s\n%s", m.renderStats(), line)
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" q  quit",
		" w  toggle wrap for the log",
		" s  toggle auto-scroll",
		" f  toggle flow summary",
		" h/? toggle this help view",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}
