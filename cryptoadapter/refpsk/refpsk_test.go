package refpsk

import (
	"bytes"
	"testing"

	"github.com/pion/dtls/v3"

	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
)

func collectSend() (cryptoadapter.Send, func() [][]byte) {
	var sent [][]byte
	return func(datagram []byte) {
		sent = append(sent, append([]byte{}, datagram...))
	}, func() [][]byte { return sent }
}

func runHandshake(t *testing.T, clientCfg, serverCfg Config) (cryptoadapter.EstablishedContext, cryptoadapter.EstablishedContext) {
	t.Helper()

	client, err := newHandshakeContext(&clientCfg, "client-addr")
	if err != nil {
		t.Fatalf("newHandshakeContext(client) error = %v", err)
	}
	server, err := newHandshakeContext(&serverCfg, "client-addr")
	if err != nil {
		t.Fatalf("newHandshakeContext(server) error = %v", err)
	}

	clientSend, clientSent := collectSend()
	if _, err := client.Step(nil, clientSend); err != nil {
		t.Fatalf("client first Step error = %v", err)
	}
	msgs := clientSent()
	if len(msgs) != 1 {
		t.Fatalf("expected client to send exactly one ClientHello, got %d", len(msgs))
	}

	serverSend, serverSent := collectSend()
	serverEctx, err := server.Step(msgs[0], serverSend)
	if err != nil && err != cryptoadapter.ErrHelloVerifyRequired {
		t.Fatalf("server Step error = %v", err)
	}

	if err == cryptoadapter.ErrHelloVerifyRequired {
		replies := serverSent()
		if len(replies) != 1 {
			t.Fatalf("expected one hello-verify reply, got %d", len(replies))
		}
		clientSend2, clientSent2 := collectSend()
		if _, err := client.Step(replies[0], clientSend2); err != nil {
			t.Fatalf("client retry Step error = %v", err)
		}
		retries := clientSent2()
		if len(retries) != 1 {
			t.Fatalf("expected one retry ClientHello, got %d", len(retries))
		}

		server2, err := newHandshakeContext(&serverCfg, "client-addr")
		if err != nil {
			t.Fatalf("newHandshakeContext(server retry) error = %v", err)
		}
		server = server2
		serverSend, serverSent = collectSend()
		serverEctx, err = server.Step(retries[0], serverSend)
		if err != nil {
			t.Fatalf("server retry Step error = %v", err)
		}
	}

	if serverEctx == nil {
		t.Fatalf("server handshake did not complete")
	}
	finalReplies := serverSent()
	if len(finalReplies) != 1 {
		t.Fatalf("expected exactly one ServerHello accept, got %d", len(finalReplies))
	}

	clientSend3, _ := collectSend()
	clientEctx, err := client.Step(finalReplies[0], clientSend3)
	if err != nil {
		t.Fatalf("client final Step error = %v", err)
	}
	if clientEctx == nil {
		t.Fatalf("client handshake did not complete")
	}

	return clientEctx, serverEctx
}

func TestHandshake_NoCookie(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk}
	serverCfg := Config{Role: RoleServer, PSK: psk}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	if clientEctx.CipherSuite() != dtls.TLS_PSK_WITH_AES_128_CCM_8.String() {
		t.Errorf("CipherSuite() = %q", clientEctx.CipherSuite())
	}
	if serverEctx.Reloaded() {
		t.Errorf("fresh server context reports Reloaded() = true")
	}
}

func TestHandshake_WithCookie(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk}
	serverCfg := Config{Role: RoleServer, PSK: psk, CookieSecret: []byte("cookie-secret")}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	plaintext := []byte("hello over refpsk")
	ciphertext, err := clientEctx.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	sink, _ := collectSend()
	got, err := serverEctx.Decrypt(ciphertext, sink)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestHandshake_WithCID(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk, CIDSize: 4}
	serverCfg := Config{Role: RoleServer, PSK: psk, CIDSize: 4}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	if len(clientEctx.OwnCID()) != 4 {
		t.Fatalf("client OwnCID length = %d, want 4", len(clientEctx.OwnCID()))
	}
	if len(serverEctx.OwnCID()) != 4 {
		t.Fatalf("server OwnCID length = %d, want 4", len(serverEctx.OwnCID()))
	}

	ciphertext, err := clientEctx.Encrypt([]byte("ping"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(ciphertext, serverEctx.OwnCID()) {
		t.Errorf("record is not prefixed with the receiving side's own CID")
	}
}

func TestEstablished_DecryptTamperedFails(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk}
	serverCfg := Config{Role: RoleServer, PSK: psk}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	ciphertext, err := clientEctx.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xff

	sink, _ := collectSend()
	if _, err := serverEctx.Decrypt(tampered, sink); err == nil {
		t.Fatalf("Decrypt() of tampered record succeeded")
	}
}

func TestEstablished_CloseNotify(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk}
	serverCfg := Config{Role: RoleServer, PSK: psk}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	closer, ok := clientEctx.(*establishedContext)
	if !ok {
		t.Fatalf("clientEctx is not *establishedContext")
	}
	datagram, err := closer.CloseNotifyDatagram()
	if err != nil {
		t.Fatalf("CloseNotifyDatagram() error = %v", err)
	}

	sink, _ := collectSend()
	_, err = serverEctx.Decrypt(datagram, sink)
	if err != cryptoadapter.ErrCloseNotify {
		t.Fatalf("Decrypt() error = %v, want ErrCloseNotify", err)
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	psk := []byte("shared-secret")
	clientCfg := Config{Role: RoleClient, Identity: []byte("device-1"), PSK: psk, CIDSize: 4}
	serverCfg := Config{Role: RoleServer, PSK: psk, CIDSize: 4}

	clientEctx, serverEctx := runHandshake(t, clientCfg, serverCfg)

	blob, err := serverEctx.SaveAndClose()
	if err != nil {
		t.Fatalf("SaveAndClose() error = %v", err)
	}

	adapter := New(serverCfg)
	reloaded, err := adapter.LoadSession(serverEctx.OwnCID(), blob, "new-addr")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if !reloaded.Reloaded() {
		t.Errorf("reloaded context reports Reloaded() = false")
	}

	ciphertext, err := clientEctx.Encrypt([]byte("after migration"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	sink, _ := collectSend()
	got, err := reloaded.Decrypt(ciphertext, sink)
	if err != nil {
		t.Fatalf("Decrypt() after reload error = %v", err)
	}
	if string(got) != "after migration" {
		t.Errorf("Decrypt() = %q", got)
	}
}

func TestAdapter_PeekCID(t *testing.T) {
	adapter := New(Config{Role: RoleServer, CIDSize: 4})

	t.Run("too short", func(t *testing.T) {
		if _, ok := adapter.PeekCID(4, []byte{1, 2}); ok {
			t.Errorf("PeekCID() ok = true for a too-short datagram")
		}
	})

	t.Run("looks like a hello", func(t *testing.T) {
		if _, ok := adapter.PeekCID(4, []byte{msgClientHello, 0, 0, 0}); ok {
			t.Errorf("PeekCID() ok = true for a ClientHello-tagged datagram")
		}
	})

	t.Run("plausible record", func(t *testing.T) {
		cid, ok := adapter.PeekCID(4, []byte{0x10, 0x20, 0x30, 0x40, 0, 0, 0, 0})
		if !ok {
			t.Fatalf("PeekCID() ok = false")
		}
		if !bytes.Equal(cid, []byte{0x10, 0x20, 0x30, 0x40}) {
			t.Errorf("PeekCID() = %x", cid)
		}
	})
}
