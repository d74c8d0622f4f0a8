package enum

type ProviderKind string

const (
	ProviderIMAP  ProviderKind = "imap"
	ProviderGraph ProviderKind = "graph"
	ProviderREST  ProviderKind = "rest"
)

func (t ProviderKind) String() string {
	return string(t)
}

func DecodeProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(s) {
	case ProviderIMAP, ProviderGraph, ProviderREST:
		return ProviderKind(s), true
	}
	return "", false
}
