// Package persist reads and writes the management model as an HCL file.
//
// The file holds a single subsystem block with one nested block per
// resource:
//
//	subsystem "messaging" {
//	  server "default" {
//	    statistics-enabled = true
//
//	    queue "orders" {
//	      address = "jms.${env.QUEUE_SUFFIX}"
//	    }
//	  }
//	}
//
// Runtime attributes are never written. The file is rewritten wholesale on
// every successful commit and read back at boot as a sequence of add
// operations.
package persist
