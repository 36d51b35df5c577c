package data

import (
	"errors"
	"io"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/repo"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/agent"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/infra/telegram"
)

// Repositories contains all repositories
type Repositories struct {
	Access repo.AccessRepo
	Chat   repo.ChatRepo
	Agent  repo.AgentRepo
	MsgLog repo.MessageLogRepo

	closers []io.Closer
}

// NewRepositories creates all repositories. An empty messageLogPath
// disables the message audit log.
func NewRepositories(
	telegramClient *telegram.Client,
	runner *agent.Runner,
	stateFile string,
	messageLogPath string,
) (*Repositories, error) {
	accessRepo, err := NewAccessRepo(stateFile)
	if err != nil {
		return nil, err
	}
	repos := &Repositories{
		Access:  accessRepo,
		Chat:    NewTelegramRepo(telegramClient),
		Agent:   NewAgentRepo(runner),
		MsgLog:  NewDiscardMessageLogRepo(),
		closers: []io.Closer{accessRepo},
	}

	if messageLogPath != "" {
		msgLog, closer, err := NewMessageLogRepo(messageLogPath)
		if err != nil {
			_ = repos.Close()
			return nil, err
		}
		repos.MsgLog = msgLog
		repos.closers = append(repos.closers, closer)
	}
	return repos, nil
}

// Close releases the state database and log files
func (r *Repositories) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}
