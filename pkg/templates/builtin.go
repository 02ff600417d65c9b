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
package templates

import "github.com/teradata-labs/warp/pkg/workflow"

// Builtins returns the built-in template catalog. Each call returns fresh
// values so registries never share mutable state.
func Builtins() []*Template {
	return []*Template{
		{
			Name:        "assistant",
			Description: "General-purpose conversational assistant.",
			Mode:        workflow.ModePlain,
			Defaults: workflow.Config{
				EnableMemory: true,
				MemoryWindow: 20,
			},
			SystemPrompt: "You are a helpful, concise assistant. Answer directly and admit uncertainty.",
		},
		{
			Name:        "researcher",
			Description: "Retrieval-grounded answering over an indexed corpus.",
			Mode:        workflow.ModeRAG,
			Defaults: workflow.Config{
				MaxDocuments:        5,
				SimilarityThreshold: 0.2,
			},
			RequiredRetrievers: []string{"keyword"},
			SystemPrompt:       "You are a research assistant. Ground every claim in the provided context and cite passage numbers like [1].",
		},
		{
			Name:        "operator",
			Description: "Tool-using assistant for calculations and workspace operations.",
			Mode:        workflow.ModeTools,
			Defaults: workflow.Config{
				MaxToolCalls: 5,
			},
			RequiredTools: []string{"calculator", "clock"},
			SystemPrompt:  "You are an operations assistant. Use the available tools for anything you cannot answer exactly from the conversation.",
		},
		{
			Name:        "analyst",
			Description: "Retrieval plus tools for data analysis sessions.",
			Mode:        workflow.ModeFull,
			Defaults: workflow.Config{
				EnableMemory:        true,
				MemoryWindow:        30,
				MaxToolCalls:        8,
				MaxDocuments:        8,
				SimilarityThreshold: 0.1,
			},
			RequiredTools:      []string{"calculator"},
			RequiredRetrievers: []string{"keyword"},
			SystemPrompt:       "You are a data analyst. Combine retrieved context with tool results; show the numbers behind every conclusion.",
		},
	}
}
