package main

import (
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/mleary/receiptdrop/cmd/tui/internal/view"
	"github.com/mleary/receiptdrop/internal/config"
	"github.com/mleary/receiptdrop/internal/session"
	"github.com/mleary/receiptdrop/internal/transport"
	"github.com/mleary/receiptdrop/internal/upload"
)

type model struct {
	orch *upload.Orchestrator
	sess *session.Session
	dir  string

	currentView View

	uploadView view.UploadModel
}

type View int

const (
	ViewMenu   View = 0
	ViewUpload View = 1
)

func initialModel() model {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	sess := session.New(cfg.API.Token)
	client := transport.New(cfg.API.BaseURL, sess.Token(), cfg.API.Timeout)
	orch := upload.New(client, upload.WithMaxInFlight(cfg.Upload.MaxInFlight))

	return model{
		orch:        orch,
		sess:        sess,
		dir:         cfg.Upload.Dir,
		currentView: ViewMenu,
		uploadView:  view.NewUploadModel(orch, sess, cfg.Upload.Dir),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.currentView == ViewMenu {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "1":
				m.currentView = ViewUpload
				return m, m.uploadView.Init()
			}
		}
	case view.BackMsg:
		m.currentView = ViewMenu
		return m, nil
	}

	switch m.currentView {
	case ViewUpload:
		var newModel tea.Model
		newModel, cmd = m.uploadView.Update(msg)
		m.uploadView = newModel.(view.UploadModel)
	}

	return m, cmd
}

func (m model) View() string {
	switch m.currentView {
	case ViewMenu:
		return lipgloss.NewStyle().Padding(2).Render(
			"receiptdrop\n\n" +
				"1. Upload Receipts\n\n" +
				"q. Quit",
		)
	case ViewUpload:
		return m.uploadView.View()
	}

	return "Unknown View"
}

func main() {
	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		slog.Error("failed to run TUI", "error", err)
		os.Exit(1)
	}
}
