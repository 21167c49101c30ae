package main

import (
	"flag"
	"time"

	"github.com/astaxie/beego/config"
)

type settings struct {
	Listen         string
	TLSListen      string
	TLSDomains     []string
	TLSCacheDir    string
	User, Pass     string
	MaxRequests    int
	RequestTimeout time.Duration
	LogFile        string
	Debug          bool
}

// loadSettings reads flags, then lets an ini file given with -config
// override them:
//
//	listen = :7144
//	[admin]
//	user = admin
//	pass = secret
//	[server]
//	max_requests = 1000
//	request_timeout_ms = 7000
//	[tls]
//	listen = :443
//	domains = peercast.example.org
//	cache_dir = /var/cache/peercast
//	[log]
//	file = /var/log/peercast-httpd.log
//	debug = false
func loadSettings(args []string) (*settings, error) {
	fs := flag.NewFlagSet("peercast-httpd", flag.ContinueOnError)
	s := &settings{}
	path := fs.String("config", "", "ini file overriding the flags")
	fs.StringVar(&s.Listen, "listen", ":7144", "listen address")
	fs.StringVar(&s.User, "user", "admin", "admin user name")
	fs.StringVar(&s.Pass, "pass", "", "admin password; empty disables authentication")
	fs.IntVar(&s.MaxRequests, "max-requests", 1000, "requests served per connection")
	fs.DurationVar(&s.RequestTimeout, "request-timeout", 7*time.Second, "header read budget")
	fs.StringVar(&s.LogFile, "log-file", "", "log to this file instead of stderr")
	fs.BoolVar(&s.Debug, "debug", false, "log per-connection details")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *path == "" {
		return s, nil
	}
	cnf, err := config.NewConfig("ini", *path)
	if err != nil {
		return nil, err
	}
	s.Listen = cnf.DefaultString("listen", s.Listen)
	s.User = cnf.DefaultString("admin::user", s.User)
	s.Pass = cnf.DefaultString("admin::pass", s.Pass)
	s.MaxRequests = cnf.DefaultInt("server::max_requests", s.MaxRequests)
	if ms := cnf.DefaultInt64("server::request_timeout_ms", 0); ms > 0 {
		s.RequestTimeout = time.Duration(ms) * time.Millisecond
	}
	s.TLSListen = cnf.DefaultString("tls::listen", ":443")
	s.TLSDomains = cnf.DefaultStrings("tls::domains", nil)
	s.TLSCacheDir = cnf.DefaultString("tls::cache_dir", "peercast-certs")
	s.LogFile = cnf.DefaultString("log::file", s.LogFile)
	s.Debug = cnf.DefaultBool("log::debug", s.Debug)
	return s, nil
}
