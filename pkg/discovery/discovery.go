package discovery

// Discovery abstracts how membership seed addresses are provided.
type Discovery interface {
    Seeds() []string
}
