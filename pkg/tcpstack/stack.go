package tcpstack

import (
	"context"
	"math/rand"
	"sync"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"

	"github.com/chemi123/toytcp/pkg/rawip"
)

// Stack is the single process-wide owner of every connection. It starts one
// receive goroutine and one timer goroutine (via Run) and serves all blocking
// user calls through the same registry lock and event mailbox.
type Stack struct {
	cfg       Config
	transport rawip.Transport
	localAddr [4]byte

	reg     *registry
	events  *eventMailbox
	portRnd *portRand

	wg      sync.WaitGroup
	runOnce sync.Once
	cancel  context.CancelFunc
}

// portRand wraps the math/rand source behind its own mutex. Port allocation
// happens under the registry lock today, but guarding the source separately
// means a future caller that doesn't hold that lock still can't race
// math/rand's internal state.
type portRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newPortRandHolder() *portRand {
	return &portRand{rnd: newPortRand()}
}

func (p *portRand) draw(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Intn(n)
}

// NewStack constructs a Stack bound to localAddr, communicating over
// transport. Call Run to start its background goroutines.
func NewStack(localAddr [4]byte, transport rawip.Transport, cfg Config) *Stack {
	return &Stack{
		cfg:       cfg,
		transport: transport,
		localAddr: localAddr,
		reg:       newRegistry(),
		events:    newEventMailbox(),
		portRnd:   newPortRandHolder(),
	}
}

// Run starts the receive and timer background goroutines, under a context
// derived from ctx so Close can stop them even if ctx itself is never
// cancelled (or is the long-lived context of a caller who still has other
// work to do with it). Run returns immediately; call Close to stop them.
func (s *Stack) Run(ctx context.Context) {
	s.runOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(2)
		go s.receiveLoop(runCtx)
		go s.timerLoop(runCtx)
	})
}

// Close cancels the context passed to Run, tears down the transport, and
// waits for both background goroutines to exit. The returned error carries
// only a transport Close failure; the goroutines themselves report no
// errors. Cancelling first is what actually unblocks timerLoop (it only
// ever exits via ctx.Done()) and receiveLoop against a real transport,
// whose blocking read returns an OS "closed" error rather than
// context.Canceled once transport.Close runs, and so can't otherwise tell
// a caller-intended shutdown apart from a read error worth retrying.
func (s *Stack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var result *multierror.Error
	if err := s.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.wg.Wait()
	return result.ErrorOrNil()
}

// recoverPanic converts a panic into a logged error so one bad segment can
// never take down the receive or timer goroutine.
func recoverPanic(ctx context.Context, where string) {
	if r := recover(); r != nil {
		dlog.Errorf(ctx, "%s: recovered panic: %v", where, derror.PanicToError(r))
	}
}
