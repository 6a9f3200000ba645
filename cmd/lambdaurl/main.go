package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/boogy/jwt-forge/pkg/handler"
)

var bootstrap *handler.Bootstrap

func init() {
	var err error
	bootstrap, err = handler.NewBootstrap(context.Background())
	if err != nil {
		panic(err)
	}
}

func main() {
	// Flush buffered S3 logs when the function exits
	defer bootstrap.Cleanup()

	// Create the Lambda URL handler
	h := handler.NewAwsLambdaUrlFromBootstrap(bootstrap)

	lambda.Start(h.Handler)
}
