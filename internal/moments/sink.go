package moments

import "sync"

// maxBufferedBlocks bounds how many unconsumed blocks are kept per account.
const maxBufferedBlocks = 50

// MemorySink buffers injected context blocks per account until the agent
// runtime drains them into its next prompt.
type MemorySink struct {
	mu     sync.Mutex
	blocks map[string][]string
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{blocks: make(map[string][]string)}
}

// InjectContext appends one formatted block for the account, evicting the
// oldest block when the buffer is full.
func (s *MemorySink) InjectContext(accountID, block string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := append(s.blocks[accountID], block)
	if len(buf) > maxBufferedBlocks {
		buf = buf[len(buf)-maxBufferedBlocks:]
	}
	s.blocks[accountID] = buf
}

// Drain returns and clears the buffered blocks for the account.
func (s *MemorySink) Drain(accountID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.blocks[accountID]
	delete(s.blocks, accountID)
	return out
}
