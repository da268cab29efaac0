//go:build linux

package serial

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func openPTY(t *testing.T, bufsize int) (*Port, func(p []byte) (int, error), func() error) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := DefaultConfig(slave.Name())
	cfg.BaudRate = 115200
	cfg.Delimiter = "\n"
	cfg.ReadBufSize = bufsize
	port, err := Open(cfg, WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	return port, master.Write, master.Close
}

func TestLinuxHandle_RoundTrip(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := DefaultConfig(slave.Name())
	cfg.ReadBufSize = 4096
	port, err := Open(cfg, WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	// Port writes, master reads
	require.NoError(t, port.Write([]byte("Hello, world!")))
	buf := make([]byte, 13)
	n, err := master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(buf[:n]))

	// master writes, Port reads
	_, err = master.Write([]byte("Hello, world!"))
	require.NoError(t, err)
	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < 13 && time.Now().Before(deadline) {
		c := port.ReadAsync(13 - len(got))
		data, err := c.AwaitTimeout(time.Until(deadline))
		require.NoError(t, err)
		got = append(got, data...)
	}
	require.Equal(t, "Hello, world!", string(got))
}

func TestLinuxHandle_ChatMasterSlave(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := DefaultConfig(slave.Name())
	cfg.BaudRate = 115200
	cfg.Delimiter = "\n"
	reader, err := Open(cfg, WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	// Channels for chat messages
	fromMaster := make(chan string, 1)
	fromSlave := make(chan string, 1)
	errors := make(chan error, 1)

	go reader.ReadLinesLoop(
		func(line string) {
			fmt.Println("Port received:", line)
			fromMaster <- line
		},
		func(err error) { errors <- err },
	)

	// Master reads what the Port writes
	go func() {
		buf := make([]byte, 128)
		n, err := master.Read(buf)
		if err != nil {
			errors <- err
			return
		}
		fromSlave <- string(buf[:n])
	}()

	// Give the loop a chance to subscribe
	time.Sleep(20 * time.Millisecond)

	// 1. Master writes to slave, Port should receive
	_, err = master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case msg := <-fromMaster:
		require.Equal(t, "ping", msg)
	case err := <-errors:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for slave to receive from master")
	}

	// 2. Port writes to master, master should receive
	err = reader.WriteLine("pong", "\n")
	require.NoError(t, err)

	select {
	case msg := <-fromSlave:
		require.Equal(t, "pong\n", msg)
	case err := <-errors:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for master to receive from slave")
	}
}

func TestLinuxHandle_Framing(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	cfg := DefaultConfig(slave.Name())
	cfg.ByteSize = 7
	cfg.Parity = ParityEven
	cfg.StopBits = 2
	port, err := Open(cfg, WithLogger(nil))
	require.NoError(t, err)
	require.NoError(t, port.Close())

	cfg.BaudRate = 12345
	_, err = Open(cfg, WithLogger(nil))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLinuxHandle_Killability(t *testing.T) {
	port, write, _ := openPTY(t, 0)

	done := make(chan struct{})
	go func() {
		port.ReadLinesLoop(func(string) {}, func(err error) { t.Errorf("unexpected error: %v", err) })
		close(done)
	}()

	// Give the goroutine a chance to block
	time.Sleep(50 * time.Millisecond)
	_, err := write([]byte("test data\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	pending := port.ReadAsync(4)
	require.NoError(t, port.Close())

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ReadLinesLoop to exit after Close")
	}
	_, err = pending.AwaitTimeout(500 * time.Millisecond)
	require.ErrorIs(t, err, ErrClosed)

	// Should be a no-op
	require.NoError(t, port.Close())
	err = port.Write([]byte("late"))
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestLinuxHandle_ErrorPropagation(t *testing.T) {
	port, _, closeMaster := openPTY(t, 0)

	errors := make(chan error, 1)
	go port.ReadLinesLoop(
		func(line string) {},
		func(err error) { errors <- err },
	)
	time.Sleep(20 * time.Millisecond)

	// Simulate device disconnect by closing master
	require.NoError(t, closeMaster())

	select {
	case err := <-errors:
		require.Error(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestLinuxHandle_CloseFromCallbacks(t *testing.T) {
	awaitClose := func(t *testing.T, port *Port, done <-chan error) {
		t.Helper()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return from the callback")
		}
		require.False(t, port.IsOpen())
	}

	t.Run("error listener", func(t *testing.T) {
		port, _, closeMaster := openPTY(t, 0)
		done := make(chan error, 1)
		port.OnError(func(error) { done <- port.Close() })
		require.NoError(t, closeMaster())
		awaitClose(t, port, done)
	})

	t.Run("data listener", func(t *testing.T) {
		port, write, _ := openPTY(t, 0)
		done := make(chan error, 1)
		var once sync.Once
		port.On(EventData, func([]byte) {
			once.Do(func() { done <- port.Close() })
		})
		_, err := write([]byte("x"))
		require.NoError(t, err)
		awaitClose(t, port, done)
	})

	t.Run("write callback", func(t *testing.T) {
		port, _, _ := openPTY(t, 0)
		done := make(chan error, 1)
		port.WriteFunc([]byte("hi"), func(err error) {
			if err != nil {
				t.Errorf("write failed: %v", err)
			}
			done <- port.Close()
		})
		awaitClose(t, port, done)
	})

	t.Run("reopen", func(t *testing.T) {
		port, write, _ := openPTY(t, 64)
		require.NoError(t, port.Close())
		require.NoError(t, port.Open())
		_, err := write([]byte("again"))
		require.NoError(t, err)
		var got []byte
		for len(got) < 5 {
			data, err := port.ReadAsync(5 - len(got)).AwaitTimeout(time.Second)
			require.NoError(t, err)
			got = append(got, data...)
		}
		require.Equal(t, "again", string(got))
	})
}
