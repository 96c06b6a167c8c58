package main

import "time"

// RequestFlags Flag structs to decouple cobra from logic for testing.
type RequestFlags struct {
	Branch  string
	Commit  string
	Command string
	IsTest  bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type AssetFlags struct {
	SessionID string
	Command   string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Key string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type NotifyFlags struct {
	Commit    string
	SessionID string
	Status    string
	Artifact  string
	BuildID   string
	Timestamp string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type URLFlags struct {
	Branch string
	Commit string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type UploadURLFlags struct {
	SessionID string
	Filename  string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type BranchFlags struct {
	Resolve string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type CommitFlags struct {
	Branch string
	Author string
	Count  int
	Latest bool
	Ref    string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type InitFlags struct {
	Kind   string
	Output string
	Force  bool
}

type ServeFlags struct {
	ConfigPath string
}
