package worker

import (
	"context"
	"time"

	"github.com/marcelojr/provote/internal/platform/logger"
)

type blockSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// BlockSweeper roda a varredura de bloqueios vencidos em intervalo fixo até o ctx ser cancelado.
type BlockSweeper struct {
	reputation blockSweeper
	interval   time.Duration
}

func NewBlockSweeper(reputation blockSweeper, interval time.Duration) *BlockSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &BlockSweeper{reputation: reputation, interval: interval}
}

func (s *BlockSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *BlockSweeper) sweep(ctx context.Context) {
	n, err := s.reputation.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("falha na varredura de bloqueios", "error", err)
		}
		return
	}
	logger.Debug("varredura de bloqueios concluida", "desbloqueados", n)
}
