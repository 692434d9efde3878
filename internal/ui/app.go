// Package ui はセッションクライアントのコンソールUIです。
package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/groundtruth/internal/channel"
	"github.com/yourusername/groundtruth/internal/client"
	"github.com/yourusername/groundtruth/internal/ui/login"
	"github.com/yourusername/groundtruth/internal/ui/messages"
)

const maxFeed = 8

var (
	accent = lipgloss.Color("#FF6600")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#828282"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	keyStyle   = lipgloss.NewStyle().Foreground(accent)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(1, 2)
)

// Session はUIが操作するセッションクライアントです。
type Session interface {
	login.Authenticator
	CheckStatus(ctx context.Context) (*client.User, error)
	Logout(ctx context.Context) error
	State() *client.State
}

type view int

const (
	viewLoading view = iota
	viewLogin
	viewHome
)

// App はコンソールUIのルートモデルです。
type App struct {
	session  Session
	view     view
	login    login.Model
	snapshot client.Snapshot
	tenants  []string
	feed     []string
	err      string
	busy     bool
	width    int
	height   int
}

// NewApp はルートモデルを作成します。
func NewApp(session Session) *App {
	return &App{
		session:  session,
		view:     viewLoading,
		login:    login.New(session),
		snapshot: session.State().Snapshot(),
	}
}

// Init は起動時にサーバーへセッションを問い合わせます。
func (a *App) Init() tea.Cmd {
	session := a.session
	return func() tea.Msg {
		user, err := session.CheckStatus(context.Background())
		return messages.StatusMsg{User: user, Err: err}
	}
}

// Update はメッセージを処理します。
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.login.SetSize(msg.Width, msg.Height)
		return a, nil

	case messages.StatusMsg:
		// 未ログイン(401)も通信失敗もログイン画面から始める
		a.syncState()
		if msg.Err == nil && msg.User != nil {
			a.tenants = msg.User.Tenants
			a.view = viewHome
		} else {
			a.view = viewLogin
		}
		return a, nil

	case messages.LoginResultMsg:
		var cmd tea.Cmd
		a.login, cmd = a.login.Update(msg)
		if msg.Err == nil && msg.User != nil {
			a.syncState()
			a.tenants = msg.User.Tenants
			a.feed = nil
			a.err = ""
			a.view = viewHome
		}
		return a, cmd

	case messages.LogoutResultMsg:
		a.busy = false
		if msg.Err != nil {
			a.err = "ログアウトに失敗しました: " + msg.Err.Error()
			return a, nil
		}
		a.syncState()
		a.tenants = nil
		a.feed = nil
		a.err = ""
		a.login.Reset()
		a.view = viewLogin
		return a, nil

	case messages.StateChangedMsg:
		a.snapshot = msg.Snapshot
		return a, nil

	case messages.ChannelMsg:
		if line := formatChannelMessage(msg.Message); line != "" {
			a.feed = append([]string{line}, a.feed...)
			if len(a.feed) > maxFeed {
				a.feed = a.feed[:maxFeed]
			}
		}
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.view {
		case viewHome:
			switch msg.String() {
			case "q":
				return a, tea.Quit
			case "l":
				if a.busy {
					return a, nil
				}
				a.busy = true
				session := a.session
				return a, func() tea.Msg {
					return messages.LogoutResultMsg{Err: session.Logout(context.Background())}
				}
			}
			return a, nil
		case viewLoading:
			return a, nil
		}
	}

	if a.view == viewLogin {
		var cmd tea.Cmd
		a.login, cmd = a.login.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) syncState() {
	a.snapshot = a.session.State().Snapshot()
}

// View は現在の画面を描画します。
func (a *App) View() string {
	switch a.view {
	case viewLoading:
		return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center,
			metaStyle.Render("セッションを確認しています..."))
	case viewLogin:
		return a.login.View()
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Groundtruth"))
	sb.WriteString("\n\n")
	sb.WriteString(labelStyle.Render("User:   ") + a.snapshot.Username + "\n")
	tenant := a.snapshot.Tenant
	if tenant == "" {
		tenant = metaStyle.Render("(なし)")
	}
	sb.WriteString(labelStyle.Render("Tenant: ") + tenant + "\n")
	if len(a.tenants) > 1 {
		sb.WriteString(metaStyle.Render("所属: "+strings.Join(a.tenants, ", ")) + "\n")
	}

	if len(a.feed) > 0 {
		sb.WriteString("\n" + labelStyle.Render("Activity") + "\n")
		for _, line := range a.feed {
			sb.WriteString(metaStyle.Render(line) + "\n")
		}
	}
	if a.err != "" {
		sb.WriteString("\n" + errorStyle.Render(a.err) + "\n")
	}
	sb.WriteString("\n")
	if a.busy {
		sb.WriteString("ログアウト中...")
	} else {
		sb.WriteString(keyStyle.Render("l") + " ログアウト  " + keyStyle.Render("q") + " 終了")
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, boxStyle.Render(sb.String()))
}

func formatChannelMessage(msg channel.Message) string {
	switch msg.Event {
	case channel.EventActivity:
		return fmt.Sprintf("[%s] %s", msg.Tenant, activitySummary(msg.Data))
	case channel.EventError:
		return fmt.Sprintf("[%s] error: %v", msg.Tenant, msg.Data)
	}
	return ""
}

func activitySummary(data any) string {
	fields, ok := data.(map[string]any)
	if !ok {
		return fmt.Sprint(data)
	}
	return fmt.Sprintf("%v %v", fields["username"], fields["type"])
}
