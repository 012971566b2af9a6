package infra

import (
	"errors"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"security-gateway/middleware/ratelimit/domain"
)

var ErrInvalidIP = errors.New("ratelimit: invalid ip or cidr")

// IPList é um conjunto mutável de IPs e prefixos CIDR (block-list/allow-list).
// Pode ser configurado na inicialização e alterado pela API admin.
type IPList struct {
	mu       sync.RWMutex
	addrs    map[netip.Addr]struct{}
	prefixes map[netip.Prefix]struct{}
}

var _ domain.IPSet = (*IPList)(nil)

// NewIPList cria a lista a partir de entradas "1.2.3.4" ou "10.0.0.0/8".
func NewIPList(entries ...string) (*IPList, error) {
	l := &IPList{
		addrs:    make(map[netip.Addr]struct{}),
		prefixes: make(map[netip.Prefix]struct{}),
	}
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		if err := l.Add(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *IPList) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return ErrInvalidIP
		}
		l.mu.Lock()
		l.prefixes[p.Masked()] = struct{}{}
		l.mu.Unlock()
		return nil
	}
	a, err := netip.ParseAddr(entry)
	if err != nil {
		return ErrInvalidIP
	}
	l.mu.Lock()
	l.addrs[a.Unmap()] = struct{}{}
	l.mu.Unlock()
	return nil
}

// Remove retorna true se a entrada existia.
func (l *IPList) Remove(entry string) bool {
	entry = strings.TrimSpace(entry)

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, err := netip.ParsePrefix(entry); err == nil {
		p = p.Masked()
		_, ok := l.prefixes[p]
		delete(l.prefixes, p)
		return ok
	}
	if a, err := netip.ParseAddr(entry); err == nil {
		a = a.Unmap()
		_, ok := l.addrs[a]
		delete(l.addrs, a)
		return ok
	}
	return false
}

func (l *IPList) Contains(ip string) bool {
	a, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	a = a.Unmap()

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.addrs[a]; ok {
		return true
	}
	for p := range l.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (l *IPList) List() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.addrs)+len(l.prefixes))
	for a := range l.addrs {
		out = append(out, a.String())
	}
	for p := range l.prefixes {
		out = append(out, p.String())
	}
	l.mu.RUnlock()

	sort.Strings(out)
	return out
}
