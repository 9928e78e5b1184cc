package cmd

import (
	"fmt"
)

const banner = `
  ____  _                                       
 / ___|| |__   _____      _____ __ _ ___  ___ 
 \___ \| '_ \ / _ \ \ /\ / / __/ _` + "`" + ` / __|/ _ \
  ___) | | | | (_) \ V  V / (_| (_| \__ \  __/
 |____/|_| |_|\___/ \_/\_/ \___\__,_|___/\___|
                                               
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Content Showcase Admin API - Version %s\x1b[0m\n\n", Version)
}
