// Package serialization reads and writes the .born tensor container used for
// checkpoints and exported models, and the SafeTensors interchange format.
//
// A .born v2 file is laid out as:
//
//	0x00  [4]byte  magic "BORN"
//	0x04  uint32   format version (2)
//	0x08  uint32   flags
//	0x0C  uint32   reserved
//	0x10  uint64   header size
//	0x18  uint64   data size
//	0x20  [32]byte SHA-256 of the data section
//	0x40  JSON header, zero padded to a 64-byte boundary
//	      tensor data, in header order
//
// Version 1 files (magic, version, flags, uint64 header size, JSON header,
// padding, data; no checksum) are still readable.
//
// Writing a state dict:
//
//	err := serialization.WriteFile("model.born", net.StateDict(), serialization.Header{
//	    ModelType: "SimpleCNN",
//	})
//
// Reading it back:
//
//	stateDict, header, err := serialization.ReadFile("model.born")
package serialization
