// Package core defines the shared data model and external collaborator
// interfaces of the Arkestra orchestration engine: conversation messages,
// junior/senior stage payloads, tool calls and results, retrieval hits, the
// persistence store contract, model backend contracts and the error taxonomy
// used across pipeline stages.
//
// Every other package depends on core; core depends on nothing but the
// standard library. This keeps leaf components (mood, bandit, budget, guard,
// dispatch, retrieval) free of cross-dependencies: only the orchestrator
// wires them together.
package core
