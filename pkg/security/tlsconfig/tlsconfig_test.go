package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "errors"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"
)

// writeSelfSigned writes a self-signed certificate usable as CA, server and
// client identity for localhost, returning the cert and key paths.
func writeSelfSigned(t *testing.T) (string, string) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { t.Fatalf("generate key: %v", err) }
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "localhost"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        IsCA:                  true,
        DNSNames:              []string{"localhost"},
        IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    if err != nil { t.Fatalf("create certificate: %v", err) }
    keyDER, err := x509.MarshalECPrivateKey(key)
    if err != nil { t.Fatalf("marshal key: %v", err) }

    dir := t.TempDir()
    certPath, keyPath := filepath.Join(dir, "node.pem"), filepath.Join(dir, "node-key.pem")
    if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil { t.Fatalf("write cert: %v", err) }
    if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil { t.Fatalf("write key: %v", err) }
    return certPath, keyPath
}

func TestOptions_DisabledReturnsNil(t *testing.T) {
    var o Options
    for name, build := range map[string]func() (*tls.Config, error){
        "server": o.Server, "client": o.Client, "server-reload": o.ServerHotReload, "client-reload": o.ClientHotReload,
    } {
        cfg, err := build()
        if err != nil || cfg != nil { t.Fatalf("%s: got %v, %v; want nil, nil", name, cfg, err) }
    }
}

func TestOptions_ServerRequiresKeyPair(t *testing.T) {
    o := Options{Enable: true}
    if _, err := o.Server(); !errors.Is(err, ErrMissingKeyPair) { t.Fatalf("server err = %v", err) }
    if _, err := o.ServerHotReload(); !errors.Is(err, ErrMissingKeyPair) { t.Fatalf("reload err = %v", err) }
}

func TestOptions_RejectsEmptyCA(t *testing.T) {
    cert, key := writeSelfSigned(t)
    empty := filepath.Join(t.TempDir(), "empty.pem")
    if err := os.WriteFile(empty, []byte("not a pem"), 0o600); err != nil { t.Fatalf("write: %v", err) }
    o := Options{Enable: true, CertFile: cert, KeyFile: key, CAFile: empty}
    if _, err := o.Server(); !errors.Is(err, ErrNoCertificates) { t.Fatalf("server err = %v", err) }
    if _, err := o.Client(); !errors.Is(err, ErrNoCertificates) { t.Fatalf("client err = %v", err) }
}

func TestOptions_MutualTLSHandshake(t *testing.T) {
    cert, key := writeSelfSigned(t)
    o := Options{Enable: true, CAFile: cert, CertFile: cert, KeyFile: key, ServerName: "localhost"}
    srvCfg, err := o.ServerHotReload()
    if err != nil { t.Fatalf("server config: %v", err) }
    if srvCfg.ClientAuth != tls.RequireAndVerifyClientCert { t.Fatalf("client auth = %v", srvCfg.ClientAuth) }
    cliCfg, err := o.ClientHotReload()
    if err != nil { t.Fatalf("client config: %v", err) }

    ln, err := tls.Listen("tcp", "127.0.0.1:0", srvCfg)
    if err != nil { t.Fatalf("listen: %v", err) }
    defer ln.Close()
    accepted := make(chan error, 1)
    go func() {
        c, err := ln.Accept()
        if err != nil { accepted <- err; return }
        defer c.Close()
        accepted <- c.(*tls.Conn).Handshake()
    }()

    conn, err := tls.Dial("tcp", ln.Addr().String(), cliCfg)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer conn.Close()
    if err := <-accepted; err != nil { t.Fatalf("server handshake: %v", err) }

    // without a client certificate the server refuses the peer
    anon := Options{Enable: true, CAFile: cert, ServerName: "localhost"}
    anonCfg, err := anon.Client()
    if err != nil { t.Fatalf("anonymous client config: %v", err) }
    go func() {
        c, err := ln.Accept()
        if err != nil { accepted <- err; return }
        defer c.Close()
        accepted <- c.(*tls.Conn).Handshake()
    }()
    if c, err := tls.Dial("tcp", ln.Addr().String(), anonCfg); err == nil {
        _ = c.Close()
    }
    if err := <-accepted; err == nil { t.Fatalf("server accepted a client without certificate") }
}
