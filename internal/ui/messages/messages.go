// Package messages はコンソールUIのコンポーネント間でやり取りする tea.Msg を定義します。
package messages

import (
	"github.com/yourusername/groundtruth/internal/channel"
	"github.com/yourusername/groundtruth/internal/client"
)

// データメッセージ
type (
	// StatusMsg は起動時のセッション確認の結果です。
	StatusMsg struct {
		User *client.User
		Err  error
	}

	LoginResultMsg struct {
		User *client.User
		Err  error
	}

	LogoutResultMsg struct {
		Err error
	}

	// StateChangedMsg は client.State の変更通知です。
	StateChangedMsg struct {
		Snapshot client.Snapshot
	}

	// ChannelMsg はテナントチャンネルから届いたメッセージです。
	ChannelMsg struct {
		Message channel.Message
	}
)
