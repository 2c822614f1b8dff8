// Package nuagent is the execution core of a multi-provider LLM agent.
//
// It drives a user↔assistant REPL turn loop on top of a transactional
// conversation store, coordinates a tool-calling inner loop with
// dependency-aware parallel tool execution, and supervises cooperative
// background workers for summarization and embedding generation.
//
// The core building blocks are defined in this package:
//
//   - [Provider]: LLM backend (chat with tool calling, cost)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Store]: transactional persistence (conversations, exchanges,
//     messages, embeddings, typed config)
//   - [Tool] / [ToolRegistry]: pluggable capabilities with a
//     read/write and confined/unconfined classification
//   - [PlanBatches]: groups tool calls into parallel-safe batches
//   - [ExecuteBatch]: order-preserving parallel fan-out
//   - [Orchestrator]: the per-turn transaction and tool-calling loop
//   - [Supervisor] / [Worker]: pausable background tasks
//   - [Bus]: in-process pub/sub for completion signals
//
// Included implementations: store/sqlite (embedded, pure Go),
// store/postgres, provider/openaicompat, provider/anthropic.
// See cmd/nuagent for the terminal application.
package nuagent
