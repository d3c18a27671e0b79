package radio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/loramesh/internal/util"
)

// bridgePollInterval bounds how long a bridge direction blocks in ReceiveRaw
// before it rechecks ctx.
const bridgePollInterval = 100 * time.Millisecond

// Bridge forwards every frame heard on a to b and vice versa until ctx is
// done or one side is closed. It joins two mesh segments at the byte level;
// the nodes' duplicate suppression absorbs any echo.
func Bridge(ctx context.Context, a, b Transceiver) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	pump := func(name string, from, to Transceiver) {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			frame, err := from.ReceiveRaw(bridgePollInterval)
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if err != nil {
				errCh <- err
				return
			}
			if err := to.SendRaw(frame); err != nil {
				util.LogWarning("bridge %s: dropped %d-byte frame: %v", name, len(frame), err)
				continue
			}
			util.LogDebug("bridge %s: forwarded %d bytes", name, len(frame))
		}
	}

	wg.Add(2)
	go pump("a->b", a, b)
	go pump("b->a", b, a)

	select {
	case <-ctx.Done():
		wg.Wait()
		return nil
	case err := <-errCh:
		wg.Wait()
		return err
	}
}
