package model

// ProviderEntry is a read-only catalog record describing a service that issues
// two-factor secrets. Zero-valued hint fields mean "no recommendation".
type ProviderEntry struct {
	Name           string
	Website        string
	HelpURL        string
	Logo           string
	Method         Method
	Algorithm      Algorithm
	Digits         int
	Period         int
	DefaultCounter uint64
	Known          bool
}

// UnknownProvider is returned by catalog lookups that find nothing. It carries
// the generic icon and no algorithm hints.
func UnknownProvider(name string) ProviderEntry {
	return ProviderEntry{
		Name: name,
		Logo: "generic",
	}
}
