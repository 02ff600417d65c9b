// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/warp/pkg/types"
)

// TokenCounter counts tokens with the cl100k_base encoding, a reasonable
// approximation across providers. Used for memory-window summarisation
// budgets and for usage estimation when a provider reports none.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

var (
	tokenCounter     *TokenCounter
	tokenCounterOnce sync.Once
)

// GetTokenCounter returns the process-wide token counter. The encoder is
// loaded once; on failure the counter falls back to a chars/4 estimate.
func GetTokenCounter() *TokenCounter {
	tokenCounterOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			tokenCounter = &TokenCounter{}
			return
		}
		tokenCounter = &TokenCounter{encoder: tkm}
	})
	return tokenCounter
}

// CountTokens returns the token count for text.
func (tc *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tc.encoder == nil {
		// Rough heuristic: one token per four characters.
		return (len(text) + 3) / 4
	}
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the token footprint of a message list,
// including a small per-message framing overhead.
func (tc *TokenCounter) EstimateMessagesTokens(messages []types.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, msg := range messages {
		total += tc.CountTokens(msg.Content) + perMessageOverhead
	}
	return total
}
