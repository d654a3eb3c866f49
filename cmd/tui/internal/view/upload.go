package view

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/mleary/receiptdrop/internal/session"
	"github.com/mleary/receiptdrop/internal/upload"
)

const (
	batchTimeout   = 10 * time.Minute
	requestTimeout = 2 * time.Minute
)

type uploadState int

const (
	statePick uploadState = iota
	stateBatch
	stateConflict
	stateReview
	stateReviewFailed
)

type UploadModel struct {
	CommonModel
	orch *upload.Orchestrator
	sess *session.Session

	state      uploadState
	filePicker filepicker.Model
	prog       progress.Model
	spin       spinner.Model

	items     []upload.Item
	cursor    int
	uploading bool
	resolving bool

	conflict *upload.Conflict
	review   *reviewForm

	succeeded int
	skipped   int

	status string
}

func NewUploadModel(orch *upload.Orchestrator, sess *session.Session, dir string) UploadModel {
	fp := filepicker.New()

	if dir == "" {
		dir, _ = os.Getwd()
	}

	fp.CurrentDirectory = dir
	fp.ShowHidden = false
	fp.DirAllowed = false
	fp.FileAllowed = true
	fp.AllowedTypes = []string{".pdf", ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp"}
	fp.SetHeight(15)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return UploadModel{
		orch:       orch,
		sess:       sess,
		filePicker: fp,
		prog:       progress.New(progress.WithDefaultGradient()),
		spin:       sp,
	}
}

func (m UploadModel) Title() string { return "Upload Receipts" }

func (m UploadModel) ShortHelp() string {
	switch m.state {
	case statePick:
		return "Enter: add file | b: view batch | Esc: back"
	case stateBatch:
		return "a: add files | u: upload | r: retry | d: dismiss | Esc: back"
	case stateConflict:
		return "s: skip | o: overwrite"
	case stateReview:
		return "Navigate form | Esc: cancel review"
	case stateReviewFailed:
		return "r: retry commit | c: cancel review | b: batch"
	}

	return ""
}

func (m UploadModel) Init() tea.Cmd {
	return tea.Batch(m.filePicker.Init(), m.waitEventCmd(), m.spin.Tick)
}

func (m UploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case orchEventMsg:
		m.items = m.orch.Items()

		e := upload.Event(msg)
		switch e.Kind {
		case upload.EventStatusChanged:
			switch e.Status {
			case upload.StatusSuccess:
				m.succeeded++
			case upload.StatusSkipped:
				m.skipped++
			}
		case upload.EventItemRejected:
			m.status = fmt.Sprintf("Rejected %s: %s", e.Filename, e.Message)
		}

		m.clampCursor()

		return m, m.waitEventCmd()

	case fileAddedMsg:
		m.items = m.orch.Items()
		if msg.err != nil {
			m.status = fmt.Sprintf("Error reading %s: %v", msg.name, msg.err)
		} else if len(msg.rejections) > 0 {
			m.status = fmt.Sprintf("Rejected %s: %v", msg.name, msg.rejections[0].Err)
		} else {
			m.status = fmt.Sprintf("Added %s", msg.name)
		}

		return m, nil

	case batchDoneMsg:
		m.uploading = false
		m.items = m.orch.Items()

		return m.advance()

	case resolveDoneMsg:
		m.resolving = false
		m.conflict = nil
		m.items = m.orch.Items()

		if msg.err != nil {
			m.status = fmt.Sprintf("Error resolving duplicate: %v", msg.err)
		}

		return m.advance()

	case commitDoneMsg:
		m.items = m.orch.Items()

		if msg.err != nil {
			m.state = stateReviewFailed
			m.status = fmt.Sprintf("Commit failed: %v", msg.err)

			return m, nil
		}

		m.review = nil
		m.status = "Receipt committed."

		return m.advance()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)

		return m, cmd

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}

	if m.state == statePick {
		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			return m, m.addFileCmd(path)
		}

		return m, cmd
	}

	if m.state == stateReview && m.review != nil {
		return m.updateReviewForm(msg)
	}

	return m, nil
}

func (m UploadModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case statePick:
		if msg.Type == tea.KeyEsc {
			return m, Back
		}

		if msg.String() == "b" {
			m.state = stateBatch
			return m, nil
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			return m, m.addFileCmd(path)
		}

		return m, cmd

	case stateBatch:
		return m.updateBatchKeys(msg)

	case stateConflict:
		return m.updateConflictKeys(msg)

	case stateReview:
		if msg.Type == tea.KeyEsc {
			return m.cancelReview()
		}

		return m.updateReviewForm(msg)

	case stateReviewFailed:
		switch msg.String() {
		case "r":
			return m, m.commitCmd()
		case "c":
			return m.cancelReview()
		case "b":
			m.state = stateBatch
			return m, nil
		}
	}

	return m, nil
}

func (m UploadModel) updateBatchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if !m.orch.Settled() && (m.uploading || len(m.items) > 0) {
			m.status = "Batch not settled yet; resolve or dismiss remaining items first."
			return m, nil
		}

		return m, Back

	case "a":
		m.state = statePick
		return m, m.filePicker.Init()

	case "u":
		if m.uploading {
			return m, nil
		}

		if err := m.sess.Check(); err != nil {
			m.status = fmt.Sprintf("Cannot start batch: %v", err)
			return m, nil
		}

		m.uploading = true
		m.status = "Uploading..."

		return m, m.startBatchCmd()

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}

	case "r":
		if item, ok := m.itemUnderCursor(); ok {
			if err := m.orch.Retry(item.ID); err != nil {
				m.status = fmt.Sprintf("Cannot retry %s: %v", item.Filename, err)
			} else {
				m.status = fmt.Sprintf("%s queued for retry", item.Filename)
			}

			m.items = m.orch.Items()
		}

	case "d":
		if item, ok := m.itemUnderCursor(); ok {
			if err := m.orch.RemoveItem(item.ID); err != nil {
				m.status = fmt.Sprintf("Cannot dismiss %s: %v", item.Filename, err)
			}

			m.items = m.orch.Items()
			m.clampCursor()
		}
	}

	return m, nil
}

func (m UploadModel) updateConflictKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.resolving || m.conflict == nil {
		return m, nil
	}

	switch msg.String() {
	case "s":
		m.resolving = true
		return m, m.resolveCmd(m.conflict.ID, upload.ActionSkip)
	case "o":
		m.resolving = true
		return m, m.resolveCmd(m.conflict.ID, upload.ActionOverwrite)
	}

	return m, nil
}

func (m UploadModel) updateReviewForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := m.review.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.review.form = f
	}

	if m.review.form.State != huh.StateCompleted {
		return m, cmd
	}

	return m, m.commitCmd()
}

func (m UploadModel) cancelReview() (tea.Model, tea.Cmd) {
	if m.review != nil {
		if err := m.orch.CancelDraft(m.review.draft.ID); err != nil {
			m.status = fmt.Sprintf("Error cancelling review: %v", err)
		}

		m.review = nil
	}

	m.items = m.orch.Items()

	return m.advance()
}

// advance routes to the next piece of outstanding user input: duplicate
// conflicts first, strictly one at a time, then review drafts, then back to
// the batch list.
func (m UploadModel) advance() (tea.Model, tea.Cmd) {
	if c := m.orch.NextConflict(); c != nil {
		m.conflict = c
		m.state = stateConflict

		return m, nil
	}

	if d := m.orch.NextDraft(); d != nil {
		m.review = newReviewForm(d)
		m.state = stateReview

		return m, m.review.form.Init()
	}

	m.state = stateBatch

	if m.orch.Settled() {
		m.status = fmt.Sprintf("Batch settled: %d uploaded, %d skipped.", m.succeeded, m.skipped)
	}

	return m, nil
}

func (m UploadModel) itemUnderCursor() (upload.Item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return upload.Item{}, false
	}

	return m.items[m.cursor], true
}

func (m *UploadModel) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}

	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Messages

type orchEventMsg upload.Event

type fileAddedMsg struct {
	name       string
	rejections []upload.Rejection
	err        error
}

type batchDoneMsg struct {
	err error
}

type resolveDoneMsg struct {
	err error
}

type commitDoneMsg struct {
	err error
}

// Commands

func (m UploadModel) waitEventCmd() tea.Cmd {
	events := m.orch.Events()

	return func() tea.Msg {
		return orchEventMsg(<-events)
	}
}

func (m UploadModel) addFileCmd(path string) tea.Cmd {
	orch := m.orch

	return func() tea.Msg {
		content, err := os.ReadFile(path)
		if err != nil {
			return fileAddedMsg{name: path, err: err}
		}

		name := filepath.Base(path)
		rejections := orch.AddFiles(upload.File{Name: name, Content: content})

		return fileAddedMsg{name: name, rejections: rejections}
	}
}

func (m UploadModel) startBatchCmd() tea.Cmd {
	orch := m.orch

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
		defer cancel()

		return batchDoneMsg{err: orch.StartBatch(ctx)}
	}
}

func (m UploadModel) resolveCmd(conflictID uuid.UUID, action upload.Action) tea.Cmd {
	orch := m.orch

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return resolveDoneMsg{err: orch.ResolveConflict(ctx, conflictID, action)}
	}
}

func (m UploadModel) commitCmd() tea.Cmd {
	orch := m.orch
	form := m.review

	return func() tea.Msg {
		corrected, err := form.corrected()
		if err != nil {
			return commitDoneMsg{err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		return commitDoneMsg{err: orch.CommitDraft(ctx, form.draft.ID, corrected)}
	}
}

// Rendering

var (
	statusStyles = map[upload.Status]lipgloss.Style{
		upload.StatusPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		upload.StatusUploading:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		upload.StatusSuccess:     lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		upload.StatusParseError:  lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		upload.StatusDuplicate:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		upload.StatusNeedsReview: lipgloss.NewStyle().Foreground(lipgloss.Color("207")),
		upload.StatusSkipped:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		upload.StatusFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	panelStyle = lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Width(60)
)

func (m UploadModel) View() string {
	switch m.state {
	case statePick:
		return lipgloss.NewStyle().Padding(1).Render(
			"Select receipts to upload (PDF or image):\n\n" + m.filePicker.View() + "\n" + m.statusLine(),
		)
	case stateConflict:
		return m.viewConflict()
	case stateReview:
		if m.review != nil {
			return lipgloss.NewStyle().Padding(1).Render(
				panelStyle.Render("Correct Receipt\n\n"+m.review.form.View()) + "\n" + m.statusLine(),
			)
		}
	case stateReviewFailed:
		return lipgloss.NewStyle().Padding(1).Render(
			panelStyle.Render(m.status+"\n\nYour corrections are kept.\n[r] retry commit  [c] cancel review  [b] back to batch"),
		)
	}

	return m.viewBatch()
}

func (m UploadModel) viewBatch() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Batch (%d items, %d uploaded, %d skipped)\n\n", len(m.items), m.succeeded, m.skipped))

	if len(m.items) == 0 {
		b.WriteString("  No files queued. Press 'a' to add receipts.\n")
	}

	for i, item := range m.items {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		style := statusStyles[item.Status]
		line := fmt.Sprintf("%s%-12s %-28s %8s", cursor, style.Render(string(item.Status)), item.Filename, FormatBytes(item.Size))

		if item.Status == upload.StatusUploading {
			line += "  " + m.prog.ViewAs(float64(item.Progress)/100.0)
		}

		if item.Message != "" {
			line += "\n      " + style.Render(item.Message)
		}

		if item.TransactionNumber != "" && item.Status == upload.StatusParseError {
			line += fmt.Sprintf(" (stored as %s)", item.TransactionNumber)
		}

		b.WriteString(line + "\n")
	}

	if m.uploading {
		b.WriteString("\n" + m.spin.View() + " uploading...\n")
	}

	return lipgloss.NewStyle().Padding(1).Render(b.String() + "\n" + m.statusLine())
}

func (m UploadModel) viewConflict() string {
	if m.conflict == nil {
		return m.viewBatch()
	}

	body := fmt.Sprintf(
		"Duplicate Receipt\n\n%s collides with stored receipt %s.\n\n[s] skip this file  [o] overwrite the stored receipt",
		m.conflict.Filename, m.conflict.ExistingTransaction,
	)

	if m.resolving {
		body += "\n\n" + m.spin.View() + " resolving..."
	}

	return lipgloss.NewStyle().Padding(1).Render(panelStyle.Render(body))
}

func (m UploadModel) statusLine() string {
	if m.status == "" {
		return ""
	}

	return lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(m.status)
}
