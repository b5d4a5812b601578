// Command butler schedules batches of dependent agent tasks.
package main

func main() {
	Execute()
}
