package main

// main is the entry point for qcreport. Build metadata lives in root.go and
// is populated via -ldflags.
func main() {
	Execute()
}
