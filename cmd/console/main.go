// Package main はセッションクライアントのコンソールUIです。
package main

import (
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/yourusername/groundtruth/internal/channel"
	"github.com/yourusername/groundtruth/internal/client"
	"github.com/yourusername/groundtruth/internal/config"
	"github.com/yourusername/groundtruth/internal/ui"
	"github.com/yourusername/groundtruth/internal/ui/messages"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 画面を崩さないようにログはファイルへ
	logger := zerolog.Nop()
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = zerolog.New(f).With().Timestamp().Str("component", "console").Logger()
	}

	state := client.NewState()
	c, err := client.New(cfg.BaseURL, state,
		client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		client.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	app := ui.NewApp(c)
	p := tea.NewProgram(app, tea.WithAltScreen())

	socket := channel.NewLazySocket(c.BaseURL(), c.Jar(), func(msg channel.Message) {
		p.Send(messages.ChannelMsg{Message: msg})
	}, logger)
	defer socket.Close()
	c.SetChannel(socket)

	unsubscribe := state.Subscribe(func(s client.Snapshot) {
		p.Send(messages.StateChangedMsg{Snapshot: s})
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
