// Package serial provides an asynchronous serial port whose reads and writes
// behave the same under every concurrency model an application runs on.
//
// A Port sits in front of a native, event-driven handle that only offers
// open, close, write with a completion callback, and a data-arrived
// callback. On top of it the Port offers reads and writes in three shapes:
//
//   - blocking: Read and Write suspend the caller through the port's Waiter
//   - callback: ReadFunc and WriteFunc call back on the native goroutine
//   - future: ReadAsync and WriteAsync return a *Completion
//
// Which Waiter a blocking call uses is picked once per Port, from the
// backend registry. The built-in backends are "none" (block on the
// completion), "thread-future" and "green" (poll the completion flag in
// sleep slices). Packages coroutine and reactor register backends for
// github.com/b97tsk/async executors and github.com/joeycumines/go-eventloop
// loops.
//
// Received data is broadcast to EventData listeners. With Config.ReadBufSize
// set, it is also kept in a bounded receive buffer that later reads drain;
// otherwise a read takes its bytes from the next arrival only.
//
// Linux ports are driven with raw termios and poll, with a self-pipe so Close
// always unblocks the reader. darwin, the BSDs and windows use
// go.bug.st/serial. Tests use PTY pairs, or serialtest.Handle.
//
// Example usage:
//
//	cfg := serial.DefaultConfig("/dev/ttyUSB0")
//	cfg.BaudRate = 115200
//	cfg.ReadBufSize = 4096
//	port, err := serial.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	if err := port.WriteLine("C,START", "\r\n"); err != nil {
//	    log.Println("Write failed:", err)
//	}
//	data, err := port.Read(64)
package serial
