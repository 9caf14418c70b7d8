package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stockpit/internal/config"
	"stockpit/internal/util"
	"stockpit/pkg/taskwatch"
)

// Styles.
var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	codeStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	buyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	sellStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	holdStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tagStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	noticeInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	noticeSuccess  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noticeError    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	panelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	workingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	failedTagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func kindStyle(kind string) lipgloss.Style {
	switch kind {
	case "buy":
		return buyStyle
	case "sell":
		return sellStyle
	default:
		return holdStyle
	}
}

// ---------------------------------------------------------------------------
// API access for the dashboard tables
// ---------------------------------------------------------------------------

type stockRow struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Market string   `json:"market"`
	Tags   []string `json:"tags"`
}

type signalRow struct {
	Strategy  string    `json:"strategy"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// apiClient covers the list endpoints the dashboard tables need; job
// launches and polling go through taskwatch.
type apiClient struct {
	baseURL string
	tokens  taskwatch.TokenStore
	httpc   *http.Client
}

func (c *apiClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if token, err := c.tokens.Token(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *apiClient) stocks(ctx context.Context) ([]stockRow, error) {
	var rows []stockRow
	if err := c.getJSON(ctx, "/api/stocks", &rows); err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows, nil
}

func (c *apiClient) signals(ctx context.Context) ([]signalRow, error) {
	var rows []signalRow
	if err := c.getJSON(ctx, "/api/signals?limit=30", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type stocksLoadedMsg struct {
	rows []stockRow
	err  error
}

type signalsLoadedMsg struct {
	rows []signalRow
	err  error
}

type taskUpdateMsg taskwatch.Task

type noticeMsg taskwatch.Notice

// settledMsg arrives after the terminal hold window; dependent tables get
// refetched in response.
type settledMsg struct{}

type watchDoneMsg struct{ err error }

type noticeExpiredMsg int

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	api     *apiClient
	watcher *taskwatch.Watcher
	ctx     context.Context

	stocks  []stockRow
	signals []signalRow

	task     *taskwatch.Task
	settling bool
	bar      progress.Model

	notice    string
	noticeSty lipgloss.Style
	noticeSeq int

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(ctx context.Context, api *apiClient, watcher *taskwatch.Watcher) model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return model{
		api:     api,
		watcher: watcher,
		ctx:     ctx,
		bar:     bar,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.loadStocks(), m.loadSignals())
}

func (m model) loadStocks() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.api.stocks(m.ctx)
		return stocksLoadedMsg{rows: rows, err: err}
	}
}

func (m model) loadSignals() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.api.signals(m.ctx)
		return signalsLoadedMsg{rows: rows, err: err}
	}
}

// launch runs the watcher in the background; progress and notices arrive as
// messages through the watcher callbacks.
func (m model) launch(path string, query url.Values) tea.Cmd {
	if m.watcher.State() != taskwatch.StateIdle {
		return nil
	}
	w, ctx := m.watcher, m.ctx
	return func() tea.Msg {
		return watchDoneMsg{err: w.Launch(ctx, path, query)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			return m, m.launch("/api/stocks/collect-history", url.Values{"mode": {"full"}})
		case "i":
			return m, m.launch("/api/stocks/collect-history", url.Values{"mode": {"incremental"}})
		case "s":
			return m, m.launch("/api/signals/refresh", nil)
		case "a":
			return m, m.launch("/api/signals/ma/refresh", nil)
		case "x":
			if m.task != nil && m.task.Status == taskwatch.StatusRunning {
				w, ctx := m.watcher, m.ctx
				return m, func() tea.Msg {
					w.Cancel(ctx)
					return nil
				}
			}
			return m, nil
		case "r":
			return m, tea.Batch(m.loadStocks(), m.loadSignals())
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case stocksLoadedMsg:
		if msg.err == nil {
			m.stocks = msg.rows
		}
		m.refresh()
		return m, nil

	case signalsLoadedMsg:
		if msg.err == nil {
			m.signals = msg.rows
		}
		m.refresh()
		return m, nil

	case taskUpdateMsg:
		snap := taskwatch.Task(msg)
		m.task = &snap
		m.settling = snap.Status.Terminal()
		m.refresh()
		return m, nil

	case noticeMsg:
		m.notice = msg.Text
		switch msg.Level {
		case taskwatch.NoticeSuccess:
			m.noticeSty = noticeSuccess
		case taskwatch.NoticeError:
			m.noticeSty = noticeError
		default:
			m.noticeSty = noticeInfo
		}
		m.noticeSeq++
		seq := m.noticeSeq
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return noticeExpiredMsg(seq)
		})

	case noticeExpiredMsg:
		if int(msg) == m.noticeSeq {
			m.notice = ""
			m.refresh()
		}
		return m, nil

	case settledMsg:
		m.task = nil
		m.settling = false
		m.refresh()
		return m, tea.Batch(m.loadStocks(), m.loadSignals())

	case watchDoneMsg:
		// Errors were already surfaced as notices; nothing more to do.
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *model) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m model) renderContent() string {
	var b strings.Builder

	b.WriteString(m.renderTaskPanel())

	b.WriteString(titleStyle.Render(" STOCKS "))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-24s %-6s %s", "CODE", "NAME", "MKT", "TAGS")))
	b.WriteString("\n")
	if len(m.stocks) == 0 {
		b.WriteString(dimStyle.Render("  no tracked stocks"))
		b.WriteString("\n")
	}
	for _, s := range m.stocks {
		b.WriteString(fmt.Sprintf("%s %-24s %-6s %s\n",
			codeStyle.Render(fmt.Sprintf("%-8s", s.Code)),
			s.Name,
			s.Market,
			tagStyle.Render(strings.Join(s.Tags, ",")),
		))
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render(" SIGNALS "))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-8s %-6s %-9s %s", "STRATEGY", "CODE", "KIND", "STRENGTH", "WHEN")))
	b.WriteString("\n")
	if len(m.signals) == 0 {
		b.WriteString(dimStyle.Render("  no signals yet"))
		b.WriteString("\n")
	}
	for _, s := range m.signals {
		b.WriteString(fmt.Sprintf("%-12s %s %s %-9.2f %s\n",
			s.Strategy,
			codeStyle.Render(fmt.Sprintf("%-8s", s.Code)),
			kindStyle(s.Kind).Render(fmt.Sprintf("%-6s", s.Kind)),
			s.Strength,
			dimStyle.Render(s.CreatedAt.Local().Format("01-02 15:04")),
		))
	}

	return b.String()
}

// renderTaskPanel shows the progress of the watched task. The final frame
// stays on screen through the settle window, then settledMsg clears it.
func (m model) renderTaskPanel() string {
	if m.task == nil {
		return ""
	}
	t := m.task

	var b strings.Builder
	label := fmt.Sprintf(" %s · %s ", t.Type, t.Status)
	b.WriteString(panelStyle.Render(label))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(float64(t.Percent()) / 100))
	b.WriteString(fmt.Sprintf(" %3d%%  %d/%d", t.Percent(), t.CurrentItem, t.TotalItems))
	if t.FailedCount > 0 {
		b.WriteString(failedTagStyle.Render(fmt.Sprintf("  %d failed", t.FailedCount)))
	}
	b.WriteString("\n")
	if t.CurrentStockName != "" {
		b.WriteString(workingStyle.Render("  " + t.CurrentStockName))
		b.WriteString("\n")
	}
	if t.ErrorMessage != "" {
		b.WriteString(noticeError.Render("  " + t.ErrorMessage))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	header := titleStyle.Render(" stockpit ")
	if m.notice != "" {
		header += " " + m.noticeSty.Render(m.notice)
	}
	footer := dimStyle.Render("c collect · i incremental · s signals · a ma · x cancel · r refresh · q quit")
	return header + "\n" + m.viewport.View() + "\n" + footer
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

// resumeTypes are probed at startup, in order, to re-attach to a job that
// was running before the dashboard was opened.
var resumeTypes = []string{"history_collection", "signal_analysis", "ma_signal_analysis"}

func main() {
	cfgPath := "config/stockpit.yaml"
	if p := os.Getenv("STOCKPIT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) {
		// No config file: run on defaults plus env overrides.
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logFile, err := os.OpenFile("/tmp/stockpit-client.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()
	logger := util.NewLoggerTo(logFile, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	tokens := &taskwatch.FileTokenStore{Path: cfg.Client.TokenPath}
	client := taskwatch.NewClient(cfg.Client.ServerURL, tokens)
	api := &apiClient{
		baseURL: strings.TrimRight(cfg.Client.ServerURL, "/"),
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The watcher posts into the bubbletea program; p is assigned before
	// Run starts delivering messages.
	var p *tea.Program
	watcher := taskwatch.NewWatcher(client, taskwatch.Options{
		PollInterval: cfg.Client.PollInterval(),
		SettleHold:   cfg.Client.SettleHold(),
		OnUpdate: func(t taskwatch.Task) {
			p.Send(taskUpdateMsg(t))
		},
		OnNotice: func(n taskwatch.Notice) {
			p.Send(noticeMsg(n))
		},
		OnSettled: func() {
			p.Send(settledMsg{})
		},
	})

	p = tea.NewProgram(
		initialModel(ctx, api, watcher),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Resume-on-load probe: if a job of any type is still running, adopt it
	// and keep watching as if this client had launched it.
	go func() {
		for _, taskType := range resumeTypes {
			resumed, err := watcher.Resume(ctx, taskType)
			if err != nil {
				logger.Warn("resume probe failed", "task_type", taskType, "error", err)
				continue
			}
			if resumed {
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		log.Fatalf("running dashboard: %v", err)
	}
}
