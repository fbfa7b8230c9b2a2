package chain

import (
	"context"

	"chainflow/models"
)

// Broadcast copies every snapshot from in to each of outs until in is closed
// or ctx is cancelled, then closes outs. A slow output blocks the others.
func Broadcast(ctx context.Context, in <-chan models.ChainSnapshot, outs ...chan models.ChainSnapshot) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-in:
			if !ok {
				return
			}
			for _, out := range outs {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
