package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Service turns confirmations into customer emails.
type Service struct {
	mailer   Mailer
	currency string
	logger   *zap.Logger
}

func NewService(mailer Mailer, currency string, logger *zap.Logger) (*Service, error) {
	if mailer == nil {
		return nil, errors.New("notify service: mailer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{mailer: mailer, currency: currency, logger: logger}, nil
}

func (s *Service) HandleConfirmation(ctx context.Context, c Confirmation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	msg, err := RenderConfirmation(c, s.currency)
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}

	s.logger.Info("order confirmation sent",
		zap.String("order_number", c.Order.OrderNumber),
		zap.String("locale", c.Order.Locale))
	return nil
}
