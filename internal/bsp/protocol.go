// Package bsp defines the closed family of BSP (build-system-integration
// protocol) requests and notifications this core speaks, and the
// classification used by the message dependency scheduler (spec.md §4.2).
//
// Requests/responses reuse github.com/sourcegraph/go-lsp's base types
// where BSP piggybacks on LSP shapes (DocumentURI, diagnostics), the same
// reuse please's own build_langserver makes of that library
// (tools/build_langserver/lsp).
package bsp

import lsp "github.com/sourcegraph/go-lsp"

// Method is a BSP JSON-RPC method name.
type Method string

const (
	MethodInitialize              Method = "build/initialize"
	MethodInitialized             Method = "build/initialized"
	MethodShutdown                Method = "build/shutdown"
	MethodExit                    Method = "build/exit"
	MethodWorkspaceBuildTargets    Method = "workspace/buildTargets"
	MethodBuildTargetSources       Method = "buildTarget/sources"
	MethodBuildTargetPrepare       Method = "buildTarget/prepare"
	MethodSourceKitOptions         Method = "textDocument/sourceKitOptions"
	MethodWaitForBuildSystemUpdates Method = "workspace/waitForBuildSystemUpdates"
	MethodBuildTargetDidChange     Method = "buildTarget/didChange"
	MethodDidChangeWatchedFiles    Method = "workspace/didChangeWatchedFiles"
	MethodLogMessage               Method = "build/logMessage"
	MethodTaskStart                Method = "build/taskStart"
	MethodTaskProgress             Method = "build/taskProgress"
	MethodTaskFinish               Method = "build/taskFinish"
	MethodRegisterForChanges        Method = "workspace/registerForChanges"
	MethodFileOptionsChanged        Method = "build/fileOptionsChanged"
	MethodCancelRequest             Method = "$/cancelRequest"
)

// Class is the scheduling classification of spec.md §4.2.
type Class int

const (
	ClassStateChange Class = iota
	ClassStateRead
	ClassTaskProgress
)

// ClassOf returns the scheduling class for a method, defaulting
// conservatively to ClassStateChange for anything unrecognised (spec.md
// §4.2: "Unknown messages default to stateChange").
func ClassOf(method Method) Class {
	switch method {
	case MethodInitialize, MethodShutdown, MethodBuildTargetDidChange, MethodDidChangeWatchedFiles, MethodInitialized, MethodExit:
		return ClassStateChange
	case MethodWorkspaceBuildTargets, MethodBuildTargetSources, MethodSourceKitOptions, MethodBuildTargetPrepare, MethodWaitForBuildSystemUpdates:
		return ClassStateRead
	case MethodTaskStart, MethodTaskProgress, MethodTaskFinish, MethodLogMessage:
		return ClassTaskProgress
	default:
		return ClassStateChange
	}
}

// BuildClientCapabilities is sent by the client on initialize.
type BuildClientCapabilities struct {
	LanguageIDs []string `json:"languageIds"`
}

// InitializeBuildParams is the `build/initialize` request payload.
type InitializeBuildParams struct {
	DisplayName     string                  `json:"displayName"`
	Version         string                  `json:"version"`
	BSPVersion      string                  `json:"bspVersion"`
	RootURI         lsp.DocumentURI         `json:"rootUri"`
	Capabilities    BuildClientCapabilities `json:"capabilities"`
}

// BuildServerCapabilitiesData holds the non-standard capability flags this
// core interprets: supportsPreparation, sourceKitOptionsProvider (its
// absence triggers the legacy-push bridge), outputPathsProvider, and extra
// watcher glob patterns (spec.md §6).
type BuildServerCapabilitiesData struct {
	SupportsPreparation     bool     `json:"supportsPreparation"`
	SourceKitOptionsProvider bool    `json:"sourceKitOptionsProvider"`
	OutputPathsProvider      bool    `json:"outputPathsProvider"`
	Watchers                 []string `json:"watchers,omitempty"`
}

// InitializeBuildResult is the `build/initialize` response payload.
type InitializeBuildResult struct {
	DisplayName      string                      `json:"displayName"`
	Version          string                      `json:"version"`
	BSPVersion       string                      `json:"bspVersion"`
	IndexDatabasePath string                     `json:"indexDatabasePath,omitempty"`
	IndexStorePath    string                     `json:"indexStorePath,omitempty"`
	Data             BuildServerCapabilitiesData `json:"data"`
}

// WorkspaceBuildTargetsResult is the `workspace/buildTargets` response.
type WorkspaceBuildTargetsResult struct {
	Targets []WireBuildTarget `json:"targets"`
}

// WireBuildTarget is the wire shape of a build target, independent of the
// internal/model representation the manager keeps (kept separate so wire
// format changes never leak into graph algorithms).
type WireBuildTarget struct {
	ID            WireBuildTargetIdentifier   `json:"id"`
	DisplayName   string                      `json:"displayName,omitempty"`
	BaseDirectory string                      `json:"baseDirectory,omitempty"`
	Tags          []string                    `json:"tags,omitempty"`
	Capabilities  WireBuildTargetCapabilities `json:"capabilities"`
	LanguageIDs   []string                    `json:"languageIds,omitempty"`
	Dependencies  []WireBuildTargetIdentifier `json:"dependencies"`
	DataKind      string                      `json:"dataKind,omitempty"`
	Data          map[string]interface{}      `json:"data,omitempty"`
}

// WireBuildTargetIdentifier is the wire shape of a target identifier.
type WireBuildTargetIdentifier struct {
	URI string `json:"uri"`
}

// WireBuildTargetCapabilities is the wire shape of target capabilities.
type WireBuildTargetCapabilities struct {
	CanCompile bool `json:"canCompile"`
	CanTest    bool `json:"canTest"`
	CanRun     bool `json:"canRun"`
	CanDebug   bool `json:"canDebug"`
}

// BuildTargetSourcesParams is the `buildTarget/sources` request payload.
type BuildTargetSourcesParams struct {
	Targets []WireBuildTargetIdentifier `json:"targets"`
}

// BuildTargetSourcesResult is the `buildTarget/sources` response.
type BuildTargetSourcesResult struct {
	Items []SourcesItem `json:"items"`
}

// SourcesItem groups the sources belonging to one target.
type SourcesItem struct {
	Target  WireBuildTargetIdentifier `json:"target"`
	Sources []WireSourceItem          `json:"sources"`
}

// WireSourceItem is the wire shape of a source item.
type WireSourceItem struct {
	URI       string                 `json:"uri"`
	Kind      int                    `json:"kind"`
	Generated bool                   `json:"generated"`
	DataKind  string                 `json:"dataKind,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// BuildTargetPrepareParams is the `buildTarget/prepare` request payload.
type BuildTargetPrepareParams struct {
	Targets []WireBuildTargetIdentifier `json:"targets"`
}

// SourceKitOptionsParams is the `textDocument/sourceKitOptions` request
// payload.
type SourceKitOptionsParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	Target       WireBuildTargetIdentifier  `json:"target"`
	Language     string                     `json:"language"`
}

// SourceKitOptionsResult is the `textDocument/sourceKitOptions` response.
type SourceKitOptionsResult struct {
	CompilerArguments []string `json:"compilerArguments"`
	WorkingDirectory  string   `json:"workingDirectory,omitempty"`
}

// OnBuildTargetDidChangeParams is the `buildTarget/didChange` notification
// payload. Changes is nil for a coarse "invalidate everything" signal
// (spec.md §3 Lifecycles, §4.1 invalidation rules).
type OnBuildTargetDidChangeParams struct {
	Changes []BuildTargetEvent `json:"changes,omitempty"`
}

// BuildTargetEvent names one changed target.
type BuildTargetEvent struct {
	Target WireBuildTargetIdentifier `json:"target"`
	Kind   int                       `json:"kind,omitempty"`
}

// DidChangeWatchedFilesParams is the `workspace/didChangeWatchedFiles`
// notification payload, mirroring LSP's shape.
type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// FileEvent is one filesystem change.
type FileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

// CancelParams is the `$/cancelRequest` notification payload, reused from
// LSP's convention (tools/build_langserver/langserver/handler.go handles
// the equivalent "$/cancelRequest" method for the sibling LSP server).
type CancelParams struct {
	ID interface{} `json:"id"`
}

// LogMessageParams is the `build/logMessage` notification payload.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Task    string `json:"task,omitempty"`
	Message string `json:"message"`
}

// TaskProgressParams is shared shape for taskStart/taskProgress/taskFinish.
type TaskProgressParams struct {
	TaskID  string  `json:"taskId"`
	Message string  `json:"message,omitempty"`
	Total   float64 `json:"total,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// RegisterForChangesParams is the legacy push-model registration request
// (spec.md §4.9).
type RegisterForChangesParams struct {
	URI    string `json:"uri"`
	Action string `json:"action"`
}

// FileOptionsChangedParams is the legacy push-model notification
// (spec.md §4.9).
type FileOptionsChangedParams struct {
	URI      string                 `json:"uri"`
	Options  SourceKitOptionsResult `json:"updatedOptions"`
}
