package alert

import (
	"context"
	"errors"
)

// Sender define la interfaz para avisos al operador cuando el oraculo de
// sesion lleva demasiados fallos consecutivos.
type Sender interface {
	SendOracleDown(ctx context.Context, streak int, lastErr error) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendOracleDown(_ context.Context, _ int, _ error) error {
	if s.reason == "" {
		return errors.New("alert sender disabled")
	}
	return errors.New(s.reason)
}
