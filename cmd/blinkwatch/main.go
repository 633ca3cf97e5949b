// blinkwatch detects faces in a video stream and reports eye blinks.
package main

func main() {
	Execute()
}
