/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/osda-portal/apiserver/cmd"

func main() {
	cmd.Execute()
}
