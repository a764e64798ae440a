package ssh

import (
	"context"
	"strings"
)

// Session is a connected host with file helpers on top of Run
type Session struct {
	Runner
	Host string
}

// Open dials target and wraps the runner
func Open(ctx context.Context, d Dialer, target Target) (*Session, error) {
	r, err := d.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return &Session{Runner: r, Host: target.Addr()}, nil
}

// ReadFile returns the content of path and whether it exists
func (s *Session) ReadFile(ctx context.Context, path string) ([]byte, bool, error) {
	out, err := s.Run(ctx, ReadFileCommand(path), nil)
	if err != nil {
		return nil, false, err
	}
	content, ok := strings.CutPrefix(out, presentMarker+"\n")
	if !ok {
		return nil, false, nil
	}
	return []byte(content), true, nil
}

// WriteFile atomically replaces path with data
func (s *Session) WriteFile(ctx context.Context, path string, data []byte, mode string) error {
	_, err := s.Run(ctx, WriteFileCommand(path, mode), data)
	return err
}
