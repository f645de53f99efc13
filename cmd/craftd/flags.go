package main

import "time"

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Insecure   bool
}

type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

type CreateFlags struct {
	Port       int
	MOTD       string
	AcceptEULA bool
}

type StopFlags struct {
	Timeout time.Duration
}

type WatchFlags struct {
	Watch bool
}

type TokenFlags struct {
	Subject string
	Role    string
}
