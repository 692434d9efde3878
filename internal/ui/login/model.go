// Package login はセッションクライアントのログインフォームです。
package login

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/groundtruth/internal/client"
	"github.com/yourusername/groundtruth/internal/ui/messages"
)

var (
	focusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6600"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6600")).Bold(true).
			Padding(1, 0)
)

// Authenticator はフォームが送信先として使うクライアントです。
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*client.User, error)
}

// Model はログインフォームのビューです。
type Model struct {
	usernameInput textinput.Model
	passwordInput textinput.Model
	focusIndex    int
	err           string
	submitting    bool
	auth          Authenticator
	width         int
	height        int
}

// New はログインフォームを作成します。
func New(auth Authenticator) Model {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "username"
	usernameInput.Focus()
	usernameInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.Width = 30

	return Model{
		usernameInput: usernameInput,
		passwordInput: passwordInput,
		auth:          auth,
	}
}

// SetSize は表示領域のサイズを設定します。
func (m *Model) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Reset はログアウト後にフォームを初期状態へ戻します。
func (m *Model) Reset() {
	m.passwordInput.SetValue("")
	m.err = ""
	m.submitting = false
	m.focusIndex = 0
	m.passwordInput.Blur()
	m.usernameInput.Focus()
}

// Submitting は送信中かどうかを返します。
func (m Model) Submitting() bool {
	return m.submitting
}

// Err は表示中のエラーメッセージを返します。
func (m Model) Err() string {
	return m.err
}

// Update はフォームへのメッセージを処理します。
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "tab", "shift+tab":
			if m.focusIndex == 0 {
				m.focusIndex = 1
				m.usernameInput.Blur()
				m.passwordInput.Focus()
			} else {
				m.focusIndex = 0
				m.passwordInput.Blur()
				m.usernameInput.Focus()
			}
			return m, nil
		case "enter":
			if m.submitting {
				return m, nil
			}
			username := strings.TrimSpace(m.usernameInput.Value())
			password := m.passwordInput.Value()
			if username == "" || password == "" {
				m.err = "ユーザー名とパスワードを入力してください"
				return m, nil
			}
			m.submitting = true
			m.err = ""
			auth := m.auth
			return m, func() tea.Msg {
				user, err := auth.Login(context.Background(), username, password)
				return messages.LoginResultMsg{User: user, Err: err}
			}
		}

	case messages.LoginResultMsg:
		m.submitting = false
		m.passwordInput.SetValue("")
		if msg.Err != nil {
			m.err = describe(msg.Err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.focusIndex == 0 {
		m.usernameInput, cmd = m.usernameInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func describe(err error) string {
	var respErr *client.ResponseError
	switch {
	case errors.Is(err, client.ErrInvalidCredentials):
		return err.Error()
	case errors.As(err, &respErr):
		return "サーバーエラー: " + respErr.Error()
	default:
		return "通信に失敗しました: " + err.Error()
	}
}

// View はログインフォームを描画します。
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Groundtruth にログイン"))
	sb.WriteString("\n\n")
	sb.WriteString(labelStyle.Render("Username:"))
	sb.WriteString("\n")
	sb.WriteString(m.usernameInput.View())
	sb.WriteString("\n\n")
	sb.WriteString(labelStyle.Render("Password:"))
	sb.WriteString("\n")
	sb.WriteString(m.passwordInput.View())
	sb.WriteString("\n\n")

	if m.err != "" {
		sb.WriteString(errorStyle.Render(m.err))
		sb.WriteString("\n\n")
	}

	if m.submitting {
		sb.WriteString("ログイン中...")
	} else {
		sb.WriteString(focusedStyle.Render("Enter") + " で送信, " + focusedStyle.Render("Ctrl+C") + " で終了")
	}

	content := sb.String()
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}
