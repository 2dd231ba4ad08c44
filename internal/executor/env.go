package executor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

const (
	proxyLookupTimeout = 2 * time.Second
	maxProxyAddrs      = 20
)

// lookupProxyHost resolves proxy host names. Tests replace it.
var lookupProxyHost = net.DefaultResolver.LookupIPAddr

// localHostNames never name a public proxy.
var localHostNames = map[string]struct{}{
	"localhost": {}, "localhost.localdomain": {}, "ip6-localhost": {}, "ip6-loopback": {},
	"broadcasthost": {}, "loopback": {}, "0": {},
}

// ProxyVariables are the only environment variables a tool may ever receive
// from the host. Descriptors narrow this list further.
var ProxyVariables = []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "SOCKS_PROXY"}

var allowedProxySchemes = map[string]struct{}{
	"http": {}, "https": {}, "socks4": {}, "socks5": {}, "socks4h": {}, "socks5h": {},
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(string) (string, bool)

// ForwardedEnv builds the KEY=VALUE list for a tool from the declared
// allow-list. Unset variables are omitted and proxy URLs that fail validation
// are dropped and reported.
func ForwardedEnv(names []string, lookup LookupEnv) (env []string, rejected map[string]error) {
	for _, name := range names {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		if isProxyURLVariable(name) {
			if err := ValidateProxyURL(value); err != nil {
				if rejected == nil {
					rejected = make(map[string]error)
				}
				rejected[name] = err
				continue
			}
		}
		env = append(env, name+"="+value)
	}
	return env, rejected
}

func isProxyURLVariable(name string) bool {
	upper := strings.ToUpper(name)
	return strings.HasSuffix(upper, "_PROXY") && upper != "NO_PROXY"
}

// ValidateProxyURL accepts only plain proxy endpoints on public hosts. Host
// names are resolved and every address must be public.
func ValidateProxyURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	if _, ok := allowedProxySchemes[strings.ToLower(u.Scheme)]; !ok {
		return fmt.Errorf("proxy scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("proxy url must not embed credentials")
	}
	if u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return fmt.Errorf("proxy url must not carry a query or fragment")
	}
	if strings.Contains(u.Path, ";") || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("proxy url must not carry a path")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("proxy url has no host")
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("proxy port %q out of range", port)
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkProxyIP(ip)
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return fmt.Errorf("proxy host %q is not a valid name: %w", host, err)
	}
	if _, local := localHostNames[ascii]; local || strings.HasSuffix(ascii, ".localhost") {
		return fmt.Errorf("proxy host %q is local", ascii)
	}
	if strings.HasSuffix(ascii, ".onion") {
		return fmt.Errorf("proxy host %q is an onion address", ascii)
	}
	return resolveProxyHost(ascii)
}

// resolveProxyHost rejects a host when any of its first maxProxyAddrs
// addresses is not public. Lookup failures reject the proxy.
func resolveProxyHost(host string) error {
	ctx, cancel := context.WithTimeout(context.Background(), proxyLookupTimeout)
	defer cancel()
	addrs, err := lookupProxyHost(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve proxy host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("proxy host %q has no addresses", host)
	}
	if len(addrs) > maxProxyAddrs {
		addrs = addrs[:maxProxyAddrs]
	}
	for _, addr := range addrs {
		if err := checkProxyIP(addr.IP); err != nil {
			return fmt.Errorf("proxy host %q: %w", host, err)
		}
	}
	return nil
}

func checkProxyIP(ip net.IP) error {
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("proxy address %s is not public", ip)
	}
	return nil
}
