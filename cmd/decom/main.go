// decom stops and deletes hosted cloud instances in bulk.
package main

func main() {
	Execute()
}
