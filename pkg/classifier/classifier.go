// Package classifier owns the configured sets of suspicious process
// names, file-path prefixes, and network ports that the Feature
// Extractor and Scoring Engine both consult, encapsulated into a
// single object that owns the sets and is thread-safe-read.
// Substring/prefix matching against paths and process names is kept,
// just no longer scattered across the two consumers.
package classifier

import "strings"

// Context is built once at startup from configuration and is safe for
// concurrent read-only use by any number of scorer goroutines.
type Context struct {
	suspiciousProcesses map[string]struct{}
	suspiciousPaths     []string
	sensitivePaths      []string
	executablePaths     []string
	configPaths         []string
	logPaths            []string
	tempPaths           []string
	suspiciousPorts     map[uint16]struct{}
}

// Config is the subset of configuration needed to build a Context: the
// suspicious-process names, suspicious file-path prefixes, and
// suspicious ports configuration surface.
type Config struct {
	SuspiciousProcesses []string
	SuspiciousPaths     []string
	SensitivePaths      []string
	ExecutablePaths     []string
	ConfigPaths         []string
	LogPaths            []string
	TempPaths           []string
	SuspiciousPorts     []uint16
}

// DefaultConfig returns a reasonable built-in classifier configuration,
// used when the operator supplies none.
func DefaultConfig() Config {
	return Config{
		SuspiciousProcesses: []string{"nc", "ncat", "netcat", "socat", "nmap", "tcpdump", "strace", "ltrace", "gdb", "curl", "wget", "python", "perl", "bash", "sh", "powershell.exe", "mimikatz", "certutil.exe"},
		SuspiciousPaths:     []string{"/tmp/", "/dev/shm/", "/var/tmp/", "/run/"},
		SensitivePaths:      []string{"/etc/shadow", "/etc/passwd", "/etc/sudoers", "/root/.ssh/", "/home/*/.ssh/", "/etc/ssl/private/"},
		ExecutablePaths:     []string{"/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/", "/usr/local/bin/"},
		ConfigPaths:         []string{"/etc/", ".conf", ".yaml", ".yml", ".json", ".ini"},
		LogPaths:            []string{"/var/log/", ".log"},
		TempPaths:           []string{"/tmp/", "/var/tmp/", "/dev/shm/"},
		SuspiciousPorts:     []uint16{4444, 1337, 31337, 6667, 6666, 12345, 9001},
	}
}

// New builds a Context from Config. Unset fields fall back to
// DefaultConfig()'s values field-by-field, so operators may override
// only what they need to.
func New(cfg Config) *Context {
	d := DefaultConfig()
	c := &Context{
		suspiciousProcesses: toSet(orDefault(cfg.SuspiciousProcesses, d.SuspiciousProcesses)),
		suspiciousPaths:     orDefault(cfg.SuspiciousPaths, d.SuspiciousPaths),
		sensitivePaths:      orDefault(cfg.SensitivePaths, d.SensitivePaths),
		executablePaths:     orDefault(cfg.ExecutablePaths, d.ExecutablePaths),
		configPaths:         orDefault(cfg.ConfigPaths, d.ConfigPaths),
		logPaths:            orDefault(cfg.LogPaths, d.LogPaths),
		tempPaths:            orDefault(cfg.TempPaths, d.TempPaths),
		suspiciousPorts:     toPortSet(orDefault16(cfg.SuspiciousPorts, d.SuspiciousPorts)),
	}
	return c
}

func orDefault(v, d []string) []string {
	if len(v) == 0 {
		return d
	}
	return v
}

func orDefault16(v, d []uint16) []uint16 {
	if len(v) == 0 {
		return d
	}
	return v
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[strings.ToLower(it)] = struct{}{}
	}
	return m
}

func toPortSet(ports []uint16) map[uint16]struct{} {
	m := make(map[uint16]struct{}, len(ports))
	for _, p := range ports {
		m[p] = struct{}{}
	}
	return m
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// IsSuspiciousProcess reports whether comm names a process the
// classifier considers inherently suspicious (netcat, shells, etc).
func (c *Context) IsSuspiciousProcess(comm string) bool {
	_, ok := c.suspiciousProcesses[strings.ToLower(comm)]
	return ok
}

// IsSuspiciousPath reports whether path falls under a configured
// suspicious-path prefix (e.g. world-writable temp directories).
func (c *Context) IsSuspiciousPath(path string) bool { return matchesAny(path, c.suspiciousPaths) }

// IsSensitivePath reports whether path names a credential/identity file.
func (c *Context) IsSensitivePath(path string) bool { return matchesAny(path, c.sensitivePaths) }

// IsExecutablePath reports whether path lives under a system binary directory.
func (c *Context) IsExecutablePath(path string) bool { return matchesAny(path, c.executablePaths) }

// IsConfigPath reports whether path looks like configuration.
func (c *Context) IsConfigPath(path string) bool { return matchesAny(path, c.configPaths) }

// IsLogPath reports whether path looks like a log file.
func (c *Context) IsLogPath(path string) bool { return matchesAny(path, c.logPaths) }

// IsTempPath reports whether path lives under a temp directory.
func (c *Context) IsTempPath(path string) bool { return matchesAny(path, c.tempPaths) }

// IsSuspiciousPort reports whether port is in the configured set of
// ports commonly associated with malware C2/backdoors.
func (c *Context) IsSuspiciousPort(port uint16) bool {
	_, ok := c.suspiciousPorts[port]
	return ok
}
